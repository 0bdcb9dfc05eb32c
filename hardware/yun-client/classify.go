package yun

import "strings"

type tokenCode struct {
	token string
	code  Code
}

// family describes one runtime operation: op code line and reply tokens.
// Reply is matched by prefix, first match wins.
type family struct {
	name  string
	code  string // op code line sent after count line
	ok    string
	fails []tokenCode
	// release is set for unsubscribe-like families where reply
	// "<release> <handle>" frees that handle and counts as success.
	release string
}

func (f *family) classify(reply string) Code {
	if strings.HasPrefix(reply, f.ok) {
		return Success
	}
	for _, tc := range f.fails {
		if strings.HasPrefix(reply, tc.token) {
			return tc.code
		}
	}
	return GenericError
}

func (f *family) result(reply string) error {
	code := f.classify(reply)
	if code == Success {
		return nil
	}
	return &Error{Op: f.name, Code: code, Reply: reply}
}

// releaseHandle parses "<release> <handle>" reply, -1 if it is not one.
func (f *family) releaseHandle(reply string) int {
	if f.release == "" || !strings.HasPrefix(reply, f.release+" ") {
		return -1
	}
	field := reply[len(f.release)+1:]
	if i := strings.IndexByte(field, ' '); i >= 0 {
		field = field[:i]
	}
	h, ok := parseDigits(field)
	if !ok || h >= MaxSub {
		return -1
	}
	return h
}

// parseDigits accepts 1-9 ASCII digits, no sign.
func parseDigits(s string) (int, bool) {
	if len(s) == 0 || len(s) > 9 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

var (
	famSetup = family{name: "setup", code: "i", ok: "I T", fails: []tokenCode{
		{"I F", SetUpError},
	}}
	famConfig = family{name: "config", code: "g", ok: "G T", fails: []tokenCode{
		{"G1F", NoSetUpError},
		{"G2F", ParameterRejectedError},
		{"GFF", ConfigGenericError},
	}}
	famConnect = family{name: "connect", code: "c", ok: "C T", fails: []tokenCode{
		{"C1F", NoSetUpError},
		{"C2F", ParameterRejectedError},
		{"C3F", ConnectSSLError},
		{"C4F", ConnectError},
		{"C5F", ConnectTimeout},
		{"C6F", ConnectCredentialNotFound},
		{"CFF", ConnectGenericError},
	}}
	famPublish = family{name: "publish", code: "p", ok: "P T", fails: []tokenCode{
		{"P1F", NoSetUpError},
		{"P2F", ParameterRejectedError},
		{"P3F", PublishError},
		{"P4F", PublishTimeout},
		{"PFF", PublishGenericError},
	}}
	famSubscribe = family{name: "subscribe", code: "s", ok: "S T", fails: []tokenCode{
		{"S1F", NoSetUpError},
		{"S2F", ParameterRejectedError},
		{"S3F", SubscribeError},
		{"S4F", SubscribeTimeout},
		{"SFF", SubscribeGenericError},
	}}
	famUnsubscribe = family{name: "unsubscribe", code: "u", ok: "U T", release: "U", fails: []tokenCode{
		{"U1F", NoSetUpError},
		{"U2F", ParameterRejectedError},
		{"U3F", UnsubscribeError},
		{"U4F", UnsubscribeTimeout},
		{"UFF", UnsubscribeGenericError},
	}}
	famYieldLock  = family{name: "yield", code: "z", ok: "Z T"}
	famYieldChunk = family{name: "yield", code: "y", ok: "Y F"}
	famDisconnect = family{name: "disconnect", code: "d", ok: "D T", fails: []tokenCode{
		{"D1F", NoSetUpError},
		{"D2F", DisconnectError},
		{"D3F", DisconnectTimeout},
		{"DFF", DisconnectGenericError},
	}}
	famShadowInit = family{name: "shadow-init", code: "si", ok: "SI T", fails: []tokenCode{
		{"SI F", ShadowInitError},
	}}
	famShadowRegisterDelta = family{name: "shadow-register-delta", code: "s_rd", ok: "S_RD T", fails: []tokenCode{
		{"S_RD1F", NoShadowInitError},
		{"S_RD2F", ParameterRejectedError},
		{"S_RD3F", SubscribeError},
		{"S_RD4F", SubscribeTimeout},
		{"S_RDFF", ShadowRegisterDeltaGenericError},
	}}
	famShadowUnregisterDelta = family{name: "shadow-unregister-delta", code: "s_ud", ok: "S_UD T", release: "S_UD", fails: []tokenCode{
		{"S_UD1F", NoShadowInitError},
		{"S_UD2F", ParameterRejectedError},
		{"S_UD3F", UnsubscribeError},
		{"S_UD4F", UnsubscribeTimeout},
		{"S_UDFF", ShadowUnregisterDeltaGenericError},
	}}
	famShadowGet = family{name: "shadow-get", code: "sg", ok: "SG T", fails: []tokenCode{
		{"SG1F", NoShadowInitError},
		{"SG2F", ParameterRejectedError},
		{"SG3F", SubscribeError},
		{"SG4F", SubscribeTimeout},
		{"SG5F", PublishError},
		{"SG6F", PublishTimeout},
		{"SGFF", ShadowGetGenericError},
	}}
	famShadowUpdate = family{name: "shadow-update", code: "su", ok: "SU T", fails: []tokenCode{
		{"SU1F", NoShadowInitError},
		{"SU2F", ParameterRejectedError},
		{"SU3F", ShadowUpdateInvalidJSONError},
		{"SU4F", SubscribeError},
		{"SU5F", SubscribeTimeout},
		{"SU6F", PublishError},
		{"SU7F", PublishTimeout},
		{"SUFF", ShadowUpdateGenericError},
	}}
	famShadowDelete = family{name: "shadow-delete", code: "sd", ok: "SD T", fails: []tokenCode{
		{"SD1F", NoShadowInitError},
		{"SD2F", ParameterRejectedError},
		{"SD3F", SubscribeError},
		{"SD4F", SubscribeTimeout},
		{"SD5F", PublishError},
		{"SD6F", PublishTimeout},
		{"SDFF", ShadowDeleteGenericError},
	}}
	famDrainingInterval = family{name: "draining-interval", code: "di", ok: "DI T", fails: []tokenCode{
		{"DI1F", NoSetUpError},
		{"DI2F", ParameterRejectedError},
		{"DI3F", ParameterRejectedError},
		{"DIFF", DrainingIntervalGenericError},
	}}
	famOfflineQueue = family{name: "offline-queue", code: "pq", ok: "PQ T", fails: []tokenCode{
		{"PQ1F", NoSetUpError},
		{"PQ2F", ParameterRejectedError},
		{"PQ3F", ParameterRejectedError},
		{"PQFF", OfflineQueueGenericError},
	}}
)
