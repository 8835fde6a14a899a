package protocol

// Tokens exchanged with the optimizer. Every token travels as its own
// message; see wire.Conn for how messages are framed.
const (
	TokenNone = "NONE"

	TokenNetworkOK    = "ANGFILE_OK"
	TokenNetworkNotOK = "ANGFILE_NOT_OK"

	TokenReplicationOK      = "REPLICATION_ID_OK"
	TokenReplicationInvalid = "REPLICATION_ID_INVALID"
	TokenTimeOK             = "TIME_OK"
	TokenTimeInvalid        = "TIME_INVALID"
	TokenNodeOK             = "NODE_ID_OK"
	TokenNodeInvalid        = "NODE_ID_INVALID"
	TokenSimDurOK           = "SIMDUR_OK"
	TokenSimDurInvalid      = "SIMDUR_INVALID"
	TokenWarmDurOK          = "WARMDUR_OK"
	TokenWarmDurInvalid     = "WARMDUR_INVALID"

	TokenSituationDone      = "SITUATION_DONE"
	TokenSituationEntryOK   = "SITUATION_ENTRY_OK"
	TokenSituationDoneOK    = "SITUATION_DONE_OK"
	TokenSituationInvalid   = "SITUATION_INVALID"
	TokenSectionIDsDone     = "SECTION_IDS_DONE"
	TokenSectionIDOK        = "SECTION_ID_OK"
	TokenSectionIDsDoneOK   = "SECTION_IDS_DONE_OK"
	TokenSectionIDsInvalid  = "SECTION_IDS_INVALID"
	TokenWaitingForTurnings = "WAITING_FOR_TURNINGS"
	TokenWaitingForPhases   = "WAITING_FOR_PHASES"
	TokenWaitingNextPhase   = "WAITING_NEXT_PHASE"
	TokenInitDone           = "INIT_DONE"

	TokenDone          = "DONE"
	TokenNewGen        = "NEW_GEN"
	TokenNewGenRecv    = "NEW_GEN_RECV"
	TokenSeedSet       = "SEED_SET"
	TokenSeedInvalid   = "SEED_INVALID"
	TokenNewInd        = "NEW_IND"
	TokenNextAllele    = "NEXT_ALLELE"
	TokenSimDone       = "SIM_DONE"
	TokenSimFailed     = "SIM_FAILED"
	TokenReady         = "READY"
	TokenNewSimDur     = "NEW_SIMDUR"
	TokenNewSimDurRecv = "NEW_SIMDUR_RECV"
	TokenSimDurSet     = "SIMDUR_SET"
)
