package action

type Action int

const (
	Undecided Action = iota // 0：Undecided
	Allow                   // 1：Pass
	Block                   // 2：Deny
	Captcha                 // 3：Deny until verified
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Block:
		return "block"
	case Captcha:
		return "captcha"
	default:
		return "undecided"
	}
}

// Reason tells which check produced a decision
type Reason int

const (
	ReasonNone Reason = iota
	ReasonBanned
	ReasonRateExceeded
	ReasonPoolExhausted
	ReasonVerificationFailed
	ReasonIPAllow
	ReasonIPBlock
	ReasonURLAllow
	ReasonRefererAllow
	ReasonRule
)

func (r Reason) String() string {
	switch r {
	case ReasonBanned:
		return "banned"
	case ReasonRateExceeded:
		return "rate_exceeded"
	case ReasonPoolExhausted:
		return "pool_exhausted"
	case ReasonVerificationFailed:
		return "verification_failed"
	case ReasonIPAllow:
		return "ip_allow"
	case ReasonIPBlock:
		return "ip_block"
	case ReasonURLAllow:
		return "url_allow"
	case ReasonRefererAllow:
		return "referer_allow"
	case ReasonRule:
		return "rule"
	default:
		return "none"
	}
}

// Decision saves the result of the decision
type Decision struct {
	result Action
	reason Reason
	detail string
}

func NewDecision() *Decision {
	return &Decision{result: Undecided}
}

// Allowed is the decision for an admitted request.
func Allowed(reason Reason) Decision {
	return Decision{result: Allow, reason: reason}
}

// Denied is the decision for a blocked request.
func Denied(reason Reason) Decision {
	return Decision{result: Block, reason: reason}
}

func (d Decision) Get() Action {
	return d.result
}

func (d *Decision) Set(new Action) {
	d.result = new
}

func (d Decision) Reason() Reason {
	return d.reason
}

func (d Decision) Detail() string {
	return d.detail
}

// SetResult records the action together with why it was taken.
func (d *Decision) SetResult(new Action, reason Reason, detail string) {
	d.result = new
	d.reason = reason
	d.detail = detail
}

// Done reports whether a check already settled the request.
func (d Decision) Done() bool {
	return d.result != Undecided
}
