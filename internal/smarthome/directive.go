package smarthome

// Namespaces and names the router recognises.
const (
	NamespaceAlexa          = "Alexa"
	NamespaceAuthorization  = "Alexa.Authorization"
	NamespaceDiscovery      = "Alexa.Discovery"
	NamespaceLockController = "Alexa.LockController"
	NamespaceContactSensor  = "Alexa.ContactSensor"
	NamespaceEndpointHealth = "Alexa.EndpointHealth"

	NameAcceptGrant = "AcceptGrant"
	NameDiscover    = "Discover"
	NameReportState = "ReportState"
	NameLock        = "Lock"
	NameUnlock      = "Unlock"
)

// DirectiveKind is the closed set of directives the router dispatches.
type DirectiveKind int

const (
	KindUnsupported DirectiveKind = iota
	KindAcceptGrant
	KindDiscover
	KindReportState
	KindLock
	KindUnlock
)

func (k DirectiveKind) String() string {
	switch k {
	case KindAcceptGrant:
		return "accept_grant"
	case KindDiscover:
		return "discover"
	case KindReportState:
		return "report_state"
	case KindLock:
		return "lock"
	case KindUnlock:
		return "unlock"
	default:
		return "unsupported"
	}
}

type directiveKey struct {
	namespace string
	name      string
}

var directiveKinds = map[directiveKey]DirectiveKind{
	{NamespaceAuthorization, NameAcceptGrant}:  KindAcceptGrant,
	{NamespaceDiscovery, NameDiscover}:         KindDiscover,
	{NamespaceAlexa, NameReportState}:          KindReportState,
	{NamespaceLockController, NameReportState}: KindReportState,
	{NamespaceLockController, NameLock}:        KindLock,
	{NamespaceLockController, NameUnlock}:      KindUnlock,
}

// KindOf classifies a directive header.
func KindOf(header Header) DirectiveKind {
	return directiveKinds[directiveKey{header.Namespace, header.Name}]
}
