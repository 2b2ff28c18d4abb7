package domain

import "fmt"

// StatusCode is the recycler's raw machine state.
type StatusCode int

const (
	StatusInitializing          StatusCode = 0
	StatusIdle                  StatusCode = 1
	StatusStartingChange        StatusCode = 2
	StatusWaitingInsertion      StatusCode = 3
	StatusCounting              StatusCode = 4
	StatusDispensing            StatusCode = 5
	StatusWaitingRejectRemoval  StatusCode = 6
	StatusWaitingCashOutRemoval StatusCode = 7
	StatusResetting             StatusCode = 8
	StatusCancelingChange       StatusCode = 9
	StatusCalculatingChange     StatusCode = 10
	StatusCancelingDeposit      StatusCode = 11
	StatusCollecting            StatusCode = 12
	StatusError                 StatusCode = 13
	StatusUploadFirmware        StatusCode = 14
	StatusReadingLog            StatusCode = 15
	StatusWaitingReplenishment  StatusCode = 16
	StatusCountingReplenishment StatusCode = 17
	StatusUnlocking             StatusCode = 18
	StatusWaitingInventory      StatusCode = 19
	StatusFixedDepositAmount    StatusCode = 20
	StatusFixedDispenseAmount   StatusCode = 21
	StatusWaitingChangeCancel   StatusCode = 23
	StatusCountedCategory2Note  StatusCode = 24
	StatusWaitingDepositEnd     StatusCode = 25
	StatusWaitingCOFTRemoval    StatusCode = 26
	StatusSealing               StatusCode = 27
	StatusWaitingErrorRecovery  StatusCode = 30
)

var statusNames = map[StatusCode]string{
	StatusInitializing:          "Initializing",
	StatusIdle:                  "Idle",
	StatusStartingChange:        "At Starting change",
	StatusWaitingInsertion:      "Waiting insertion of cash",
	StatusCounting:              "Counting",
	StatusDispensing:            "Dispensing",
	StatusWaitingRejectRemoval:  "Waiting removal of cash in reject",
	StatusWaitingCashOutRemoval: "Waiting removal of cash out",
	StatusResetting:             "Resetting",
	StatusCancelingChange:       "Canceling of Change operation",
	StatusCalculatingChange:     "Calculating Change amount",
	StatusCancelingDeposit:      "Canceling Deposit",
	StatusCollecting:            "Collecting",
	StatusError:                 "Error",
	StatusUploadFirmware:        "Upload firmware",
	StatusReadingLog:            "Reading log",
	StatusWaitingReplenishment:  "Waiting Replenishment",
	StatusCountingReplenishment: "Counting Replenishment",
	StatusUnlocking:             "Unlocking",
	StatusWaitingInventory:      "Waiting inventory",
	StatusFixedDepositAmount:    "Fixed deposit amount",
	StatusFixedDispenseAmount:   "Fixed dispense amount",
	StatusWaitingChangeCancel:   "Waiting change cancel",
	StatusCountedCategory2Note:  "Counted category2 note",
	StatusWaitingDepositEnd:     "Waiting deposit end",
	StatusWaitingCOFTRemoval:    "Waiting removal of COFT",
	StatusSealing:               "Sealing",
	StatusWaitingErrorRecovery:  "Waiting for Error recovery",
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(c))
}

// IsFault reports machine states that need staff attention.
func (c StatusCode) IsFault() bool {
	return c == StatusError || c == StatusWaitingErrorRecovery
}

// ResultCode is the outcome code attached to a device operation.
type ResultCode int

const (
	ResultSuccess        ResultCode = 0
	ResultAccepted       ResultCode = 10
	ResultInvalidSession ResultCode = 21
	ResultSessionTimeout ResultCode = 22
	ResultParamError     ResultCode = 98
	ResultInnerError     ResultCode = 99
)

var resultNames = map[ResultCode]string{
	ResultSuccess:        "success",
	ResultAccepted:       "accepted",
	ResultInvalidSession: "invalid session",
	ResultSessionTimeout: "session timeout",
	ResultParamError:     "parameter error",
	ResultInnerError:     "program inner error",
}

func (r ResultCode) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result %d", int(r))
}
