package model

import "fmt"

// ResultCode is the engine's process exit / failure reason. Zero is a normal exit.
type ResultCode int

// Result codes reported by the engine.
const (
	ResultCodeNormalExit                ResultCode = 0
	ResultCodeKilled                    ResultCode = 1
	ResultCodeHung                      ResultCode = 2
	ResultCodeKilledBadMessage          ResultCode = 3
	ResultCodeGPUDeadOnArrival          ResultCode = 4
	ResultCodeMissingData               ResultCode = 7
	ResultCodeUnsupportedParam          ResultCode = 13
	ResultCodeProfileInUse              ResultCode = 21
	ResultCodeNormalExitProcessNotified ResultCode = 24
	ResultCodeInvalidSandboxState       ResultCode = 31
	ResultCodeGPUExitOnContextLost      ResultCode = 34
	ResultCodeSystemResourceExhausted   ResultCode = 37
)

var resultCodeNames = map[ResultCode]string{
	ResultCodeNormalExit:                "normal_exit",
	ResultCodeKilled:                    "killed",
	ResultCodeHung:                      "hung",
	ResultCodeKilledBadMessage:          "killed_bad_message",
	ResultCodeGPUDeadOnArrival:          "gpu_dead_on_arrival",
	ResultCodeMissingData:               "missing_data",
	ResultCodeUnsupportedParam:          "unsupported_param",
	ResultCodeProfileInUse:              "profile_in_use",
	ResultCodeNormalExitProcessNotified: "normal_exit_process_notified",
	ResultCodeInvalidSandboxState:       "invalid_sandbox_state",
	ResultCodeGPUExitOnContextLost:      "gpu_exit_on_context_lost",
	ResultCodeSystemResourceExhausted:   "system_resource_exhausted",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("result_code(%d)", int(c))
}

// MarshalText renders the code name.
func (c ResultCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Normal reports whether c signals a normal exit.
func (c ResultCode) Normal() bool {
	return c == ResultCodeNormalExit || c == ResultCodeNormalExitProcessNotified
}
