package imapx

// StatusType is the condition of a status response line.
type StatusType string

const (
	StatusOK      StatusType = "OK"
	StatusNo      StatusType = "NO"
	StatusBad     StatusType = "BAD"
	StatusPreauth StatusType = "PREAUTH"
	StatusBye     StatusType = "BYE"
)

// ResponseCode is the bracketed code of a resp-text, e.g. "[READ-WRITE]".
type ResponseCode string

const (
	CodeAlert          ResponseCode = "ALERT"
	CodeAppendUID      ResponseCode = "APPENDUID"
	CodeCapability     ResponseCode = "CAPABILITY"
	CodeClosed         ResponseCode = "CLOSED"
	CodeCopyUID        ResponseCode = "COPYUID"
	CodeHighestModSeq  ResponseCode = "HIGHESTMODSEQ"
	CodeNewName        ResponseCode = "NEWNAME"
	CodeParse          ResponseCode = "PARSE"
	CodePermanentFlags ResponseCode = "PERMANENTFLAGS"
	CodeReadOnly       ResponseCode = "READ-ONLY"
	CodeReadWrite      ResponseCode = "READ-WRITE"
	CodeTryCreate      ResponseCode = "TRYCREATE"
	CodeUIDNext        ResponseCode = "UIDNEXT"
	CodeUIDValidity    ResponseCode = "UIDVALIDITY"
	CodeUnseen         ResponseCode = "UNSEEN"

	// RFC 5530 codes: recognized so their payload-free presence doesn't trip
	// the parser, otherwise carried through as plain text.
	CodeUnavailable        ResponseCode = "UNAVAILABLE"
	CodeAuthenticationFail ResponseCode = "AUTHENTICATIONFAILED"
	CodeAuthorizationFail  ResponseCode = "AUTHORIZATIONFAILED"
	CodeExpired            ResponseCode = "EXPIRED"
	CodePrivacyRequired    ResponseCode = "PRIVACYREQUIRED"
	CodeContactAdmin       ResponseCode = "CONTACTADMIN"
	CodeNoPerm             ResponseCode = "NOPERM"
	CodeInUse              ResponseCode = "INUSE"
	CodeExpungeIssued      ResponseCode = "EXPUNGEISSUED"
	CodeCorruption         ResponseCode = "CORRUPTION"
	CodeServerBug          ResponseCode = "SERVERBUG"
	CodeClientBug          ResponseCode = "CLIENTBUG"
	CodeCannot             ResponseCode = "CANNOT"
	CodeLimit              ResponseCode = "LIMIT"
	CodeOverQuota          ResponseCode = "OVERQUOTA"
	CodeAlreadyExists      ResponseCode = "ALREADYEXISTS"
	CodeNonExistent        ResponseCode = "NONEXISTENT"
)

// AppendData is the payload of an APPENDUID response code (RFC 4315).
type AppendData struct {
	UIDValidity uint32
	UID         UID
}

// CopyData is the payload of a COPYUID response code (RFC 4315).
type CopyData struct {
	UIDValidity uint32
	SourceUIDs  UIDSet
	DestUIDs    UIDSet
}

// StatusResponse is a parsed tagged or untagged status line.
type StatusResponse struct {
	Type StatusType
	Code ResponseCode
	Text string

	// Payloads of the condition-specific codes; only the field matching Code
	// is meaningful.
	Capabilities   CapSet
	AppendUID      *AppendData
	CopyUID        *CopyData
	HighestModSeq  ModSeq
	UIDNext        UID
	UIDValidity    uint32
	Unseen         uint32
	PermanentFlags []Flag
	NewName        string
}
