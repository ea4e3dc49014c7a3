package system

import (
	"runtime"
)

type Information struct {
	Version      string `json:"version"`
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	CpuCount     int    `json:"cpu_count"`
	GoVersion    string `json:"go_version"`
}

func GetSystemInformation() *Information {
	return &Information{
		Version:      Version,
		Architecture: runtime.GOARCH,
		OS:           runtime.GOOS,
		CpuCount:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}
