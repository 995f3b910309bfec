package check

import (
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"
)

func IPAllowList(reqData dataType.UserRequest, env *Env, decision *action.Decision) {
	if !reqData.Addr.IsValid() {
		return
	}
	if source, ok := env.RuleSet.Trie(reqData.Addr, true).Contains(reqData.Addr); ok {
		decision.SetResult(action.Allow, action.ReasonIPAllow, string(source))
	}
}
