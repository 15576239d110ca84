// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"encoding/json"
	"path/filepath"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

// SidecarName is the job record written next to a finished rendition.
const SidecarName = "job.json"

func writeSidecar(j jobs.Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(j.OutputDir, SidecarName), append(data, '\n'))
}
