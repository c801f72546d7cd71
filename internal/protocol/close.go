package protocol

// Connection close codes (spec section 6).
const (
	CloseNormal        uint64 = 0x00 // "kthxbye"
	CloseGenericFailure uint64 = 0x01
	CloseAuthFailed    uint64 = 0x10
)

const (
	ReasonNormal    = "kthxbye"
	ReasonAuthFail  = "authentication failed"
	ReasonNoALPN    = "no ALPN match"
	ReasonUserTerm  = "user terminated"
)
