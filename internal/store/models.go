package store

import "time"

// PlatformInfo captures a node's OS, hardware and language runtime details
// as reported at registration time. Stored as flat columns on the session
// row (spec.md §3) rather than a JSON blob, so the parametrized search
// builder can filter/sort on fields like OSSystem.
type PlatformInfo struct {
	Platform string `json:"platform" db:"env_platform"`
	Node     string `json:"node" db:"env_node"`

	OSSystem  string `json:"-" db:"env_os_system"`
	OSRelease string `json:"-" db:"env_os_release"`
	OSVersion string `json:"-" db:"env_os_version"`

	HWMachine   string `json:"-" db:"env_hw_machine"`
	HWProcessor string `json:"-" db:"env_hw_processor"`

	RuntimeBuildNo     string `json:"-" db:"env_rt_build_no"`
	RuntimeBuildDate   string `json:"-" db:"env_rt_build_date"`
	RuntimeCompiler    string `json:"-" db:"env_rt_compiler"`
	RuntimeImpl        string `json:"-" db:"env_rt_implementation"`
	RuntimeVersion     string `json:"-" db:"env_rt_version"`
}

// OS is the nested "os" object in the wire representation of PlatformInfo.
type OS struct {
	System  string `json:"system"`
	Release string `json:"release"`
	Version string `json:"version"`
}

// Hardware is the nested "hardware" object in the wire representation.
type Hardware struct {
	Machine   string `json:"machine"`
	Processor string `json:"processor"`
}

// Runtime is the nested "python"-equivalent object in the wire
// representation: the node's language runtime build info.
type Runtime struct {
	Build         [2]string `json:"build"`
	Compiler      string    `json:"compiler"`
	Implementation string   `json:"implementation"`
	Version       string    `json:"version"`
}

// PlatformInfoWire is the JSON shape exchanged over HTTP (spec.md §3),
// distinct from PlatformInfo's flat DB column shape.
type PlatformInfoWire struct {
	Platform string   `json:"platform"`
	Node     string   `json:"node"`
	OS       OS       `json:"os"`
	Hardware Hardware `json:"hardware"`
	Runtime  Runtime  `json:"python"`
}

// ToWire converts the flat DB representation to the wire representation.
func (p PlatformInfo) ToWire() PlatformInfoWire {
	return PlatformInfoWire{
		Platform: p.Platform,
		Node:     p.Node,
		OS: OS{
			System:  p.OSSystem,
			Release: p.OSRelease,
			Version: p.OSVersion,
		},
		Hardware: Hardware{
			Machine:   p.HWMachine,
			Processor: p.HWProcessor,
		},
		Runtime: Runtime{
			Build:          [2]string{p.RuntimeBuildNo, p.RuntimeBuildDate},
			Compiler:       p.RuntimeCompiler,
			Implementation: p.RuntimeImpl,
			Version:        p.RuntimeVersion,
		},
	}
}

// FromWire populates the flat DB representation from the wire shape.
func FromWire(w PlatformInfoWire) PlatformInfo {
	return PlatformInfo{
		Platform:         w.Platform,
		Node:             w.Node,
		OSSystem:         w.OS.System,
		OSRelease:        w.OS.Release,
		OSVersion:        w.OS.Version,
		HWMachine:        w.Hardware.Machine,
		HWProcessor:      w.Hardware.Processor,
		RuntimeBuildNo:   w.Runtime.Build[0],
		RuntimeBuildDate: w.Runtime.Build[1],
		RuntimeCompiler:  w.Runtime.Compiler,
		RuntimeImpl:      w.Runtime.Implementation,
		RuntimeVersion:   w.Runtime.Version,
	}
}

// Session represents one lifetime of a node at a given (ip, port).
// Spec.md §3 "Session".
type Session struct {
	ID    int64  `db:"id_session"`
	Start string `db:"session_start"`
	End   *string `db:"session_end"`
	IP    string `db:"env_ip"`
	Port  int    `db:"env_port"`
	PlatformInfo
}

// Active reports whether the session has no recorded end timestamp.
func (s Session) Active() bool { return s.End == nil }

// Execution represents one invocation of tests on a node. Spec.md §3
// "Execution".
type Execution struct {
	ID                  int64  `db:"id_execution"`
	SessionID           int64  `db:"fk_session"`
	TimestampRegistered string `db:"timestamp_registered"`
}

// Report represents the outcome of one test. Spec.md §3 "Report".
type Report struct {
	ExecutionID      int64   `db:"fk_execution"`
	TestName         string  `db:"test_name"`
	TestDescription  string  `db:"test_description"`
	TimestampStart   string  `db:"timestamp_start"`
	TimestampEnd     string  `db:"timestamp_end"`
	ResultCode       int     `db:"result_code"`
	AdditionalInfo   *string `db:"additional_info"`
}

// nowUTC returns the current instant formatted the way every
// coordinator-originated timestamp must be: UTC, second granularity,
// trailing "Z" (spec.md §3/§4.2).
func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
