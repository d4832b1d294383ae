package dns

// Action tells what InjectECS did with a query.
type Action int

// Injection outcomes
const (
	ActionPassThrough Action = iota
	ActionPatched
)

func (a Action) String() string {
	if a == ActionPatched {
		return "patched"
	}
	return "pass-through"
}

// Result is the outcome of an injection attempt. On pass-through Message is
// the original query and Reason says why it was not modified.
type Result struct {
	Message []byte
	Action  Action
	Reason  error
	Subnet  *Subnet
}

// Patched reports whether the query was modified.
func (r Result) Patched() bool {
	return r.Action == ActionPatched
}

// InjectECS derives the client subnet and adds it to a wire-format query.
// It never fails: any error leaves the query untouched and is reported as
// the pass-through reason.
func InjectECS(message []byte, clientAddr string) Result {
	subnet, err := DeriveSubnet(clientAddr)
	if err != nil {
		return passThrough(message, nil, err)
	}

	option, err := EncodeECSOption(subnet)
	if err != nil {
		return passThrough(message, subnet, err)
	}

	out, patched, err := patchECS(message, option)
	if err != nil {
		return passThrough(message, subnet, err)
	}
	if !patched {
		return passThrough(message, subnet, ErrECSPresent)
	}

	return Result{Message: out, Action: ActionPatched, Subnet: subnet}
}

// InjectECSBase64 is InjectECS for the base64url "dns" GET parameter. The
// original parameter is returned unless the query was patched.
func InjectECSBase64(param, clientAddr string) (string, Result) {
	message, err := DecodeBase64URL(param)
	if err != nil {
		return param, passThrough(nil, nil, err)
	}

	res := InjectECS(message, clientAddr)
	if !res.Patched() {
		return param, res
	}
	return EncodeBase64URL(res.Message), res
}

func passThrough(message []byte, subnet *Subnet, reason error) Result {
	return Result{
		Message: message,
		Action:  ActionPassThrough,
		Reason:  reason,
		Subnet:  subnet,
	}
}
