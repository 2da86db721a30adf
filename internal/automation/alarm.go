package automation

// AlarmInput is an input of the alarm state machine.
type AlarmInput string

// Alarm inputs. Motion is only fed to the table for protected roles once
// the entry delay has expired.
const (
	InputArm               AlarmInput = "arm"
	InputDisarm            AlarmInput = "disarm"
	InputMotion            AlarmInput = "motion"
	InputInvalidCredential AlarmInput = "invalid_credential"
)

// AlarmInputs lists every defined input.
var AlarmInputs = []AlarmInput{InputArm, InputDisarm, InputMotion, InputInvalidCredential}

// AlarmStates lists every state.
var AlarmStates = []AlarmState{AlarmDisarmed, AlarmArmed, AlarmTriggered}

type alarmAction uint8

const (
	actionNone alarmAction = iota
	actionStartEntry
	actionSound
	actionSilence
)

type alarmTransition struct {
	next   AlarmState
	action alarmAction
}

// alarmTable holds one transition for every (state, input) pair.
var alarmTable = map[AlarmState]map[AlarmInput]alarmTransition{
	AlarmDisarmed: {
		InputArm:               {AlarmArmed, actionStartEntry},
		InputDisarm:            {AlarmDisarmed, actionNone},
		InputMotion:            {AlarmDisarmed, actionNone},
		InputInvalidCredential: {AlarmDisarmed, actionNone},
	},
	AlarmArmed: {
		InputArm:               {AlarmArmed, actionNone},
		InputDisarm:            {AlarmDisarmed, actionSilence},
		InputMotion:            {AlarmTriggered, actionSound},
		InputInvalidCredential: {AlarmArmed, actionNone},
	},
	AlarmTriggered: {
		InputArm:               {AlarmTriggered, actionNone},
		InputDisarm:            {AlarmDisarmed, actionSilence},
		InputMotion:            {AlarmTriggered, actionNone},
		InputInvalidCredential: {AlarmTriggered, actionNone},
	},
}

// NextAlarmState returns the state reached from s on input. Undefined
// inputs leave the state unchanged.
func NextAlarmState(s AlarmState, in AlarmInput) AlarmState {
	t, ok := alarmTable[s][in]
	if !ok {
		return s
	}
	return t.next
}

func alarmStep(s AlarmState, in AlarmInput) alarmTransition {
	t, ok := alarmTable[s][in]
	if !ok {
		return alarmTransition{next: s}
	}
	return t
}
