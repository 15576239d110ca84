// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_proc_terminate_total",
		Help: "Signals sent to transcoder process groups",
	}, []string{"signal", "result"}) // result=sent|esrch|error

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_proc_wait_total",
		Help: "Outcome of waiting on a terminated process group",
	}, []string{"outcome"})

	transcoderExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_transcoder_exits_total",
		Help: "Transcoder runs by classified outcome",
	}, []string{"outcome"})
)

func IncProcTerminate(signal, result string) { procTerminate.WithLabelValues(signal, result).Inc() }

func IncProcWait(outcome string) { procWait.WithLabelValues(outcome).Inc() }

func IncTranscoderExit(outcome string) { transcoderExits.WithLabelValues(outcome).Inc() }
