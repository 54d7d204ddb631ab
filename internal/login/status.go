package login

import "fmt"

// Status is the outcome of a log-on attempt. Values below 64 are decided by
// the client, values from 64 upward come from the LoginApp.
type Status uint8

const (
	StatusNotSet                Status = 0
	StatusLoggedOn              Status = 1
	StatusConnectionFailed      Status = 2
	StatusDNSLookupFailed       Status = 3
	StatusUnknownError          Status = 4
	StatusCancelled             Status = 5
	StatusAlreadyOnlineLocally  Status = 6
	StatusPublicKeyLookupFailed Status = 7

	lastClientSideValue Status = 63

	StatusMalformedRequest   Status = 64
	StatusBadProtocolVersion Status = 65
	StatusNoSuchUser         Status = 66
	StatusInvalidPassword    Status = 67
	StatusAlreadyLoggedIn    Status = 68
	StatusBadDigest          Status = 69
	StatusDBGeneralFailure   Status = 70
	StatusDBNotReady         Status = 71
	StatusIllegalCharacters  Status = 72
	StatusServerNotReady     Status = 73
	StatusUpdaterNotReady    Status = 74
	StatusNoBaseApps         Status = 75
	StatusBaseAppOverload    Status = 76
	StatusCellAppOverload    Status = 77
	StatusBaseAppTimeout     Status = 78
	StatusBaseAppMgrTimeout  Status = 79
	StatusDBMgrOverload      Status = 80
	StatusLoginsNotAllowed   Status = 81
	StatusRateLimited        Status = 82

	StatusCustomDefinedError Status = 254
)

var statusNames = map[Status]string{
	StatusNotSet:                "NOT_SET",
	StatusLoggedOn:              "LOGGED_ON",
	StatusConnectionFailed:      "CONNECTION_FAILED",
	StatusDNSLookupFailed:       "DNS_LOOKUP_FAILED",
	StatusUnknownError:          "UNKNOWN_ERROR",
	StatusCancelled:             "CANCELLED",
	StatusAlreadyOnlineLocally:  "ALREADY_ONLINE_LOCALLY",
	StatusPublicKeyLookupFailed: "PUBLIC_KEY_LOOKUP_FAILED",
	StatusMalformedRequest:      "LOGIN_MALFORMED_REQUEST",
	StatusBadProtocolVersion:    "LOGIN_BAD_PROTOCOL_VERSION",
	StatusNoSuchUser:            "LOGIN_REJECTED_NO_SUCH_USER",
	StatusInvalidPassword:       "LOGIN_REJECTED_INVALID_PASSWORD",
	StatusAlreadyLoggedIn:       "LOGIN_REJECTED_ALREADY_LOGGED_IN",
	StatusBadDigest:             "LOGIN_REJECTED_BAD_DIGEST",
	StatusDBGeneralFailure:      "LOGIN_REJECTED_DB_GENERAL_FAILURE",
	StatusDBNotReady:            "LOGIN_REJECTED_DB_NOT_READY",
	StatusIllegalCharacters:     "LOGIN_REJECTED_ILLEGAL_CHARACTERS",
	StatusServerNotReady:        "LOGIN_REJECTED_SERVER_NOT_READY",
	StatusUpdaterNotReady:       "LOGIN_REJECTED_UPDATER_NOT_READY",
	StatusNoBaseApps:            "LOGIN_REJECTED_NO_BASEAPPS",
	StatusBaseAppOverload:       "LOGIN_REJECTED_BASEAPP_OVERLOAD",
	StatusCellAppOverload:       "LOGIN_REJECTED_CELLAPP_OVERLOAD",
	StatusBaseAppTimeout:        "LOGIN_REJECTED_BASEAPP_TIMEOUT",
	StatusBaseAppMgrTimeout:     "LOGIN_REJECTED_BASEAPPMGR_TIMEOUT",
	StatusDBMgrOverload:         "LOGIN_REJECTED_DBMGR_OVERLOAD",
	StatusLoginsNotAllowed:      "LOGIN_REJECTED_LOGINS_NOT_ALLOWED",
	StatusRateLimited:           "LOGIN_REJECTED_RATE_LIMITED",
	StatusCustomDefinedError:    "LOGIN_CUSTOM_DEFINED_ERROR",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// Succeeded reports a completed log-on.
func (s Status) Succeeded() bool { return s == StatusLoggedOn }

// Fatal reports failures of the connection itself rather than a rejection.
func (s Status) Fatal() bool {
	return s == StatusConnectionFailed || s == StatusCancelled || s == StatusUnknownError
}

// Okay is true while nothing has gone wrong yet.
func (s Status) Okay() bool { return s == StatusNotSet || s == StatusLoggedOn }

// IsClientSide reports whether the value was produced without a server round trip.
func (s Status) IsClientSide() bool { return s <= lastClientSideValue }

// Default messages for rejections that arrive without text.
const (
	msgUnspecified   = "Unspecified error."
	msgUnelaborated  = "Unelaborated error."
	msgCorrupted     = "Mercury::REASON_CORRUPTED_PACKET"
	msgBaseAppFailed = "Unable to connect to BaseApp: A NAT or firewall error may have occurred?"
)
