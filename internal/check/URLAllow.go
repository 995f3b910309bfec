package check

import (
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"
)

func URLAllowList(reqData dataType.UserRequest, env *Env, decision *action.Decision) {
	list := env.RuleSet.AllowLists[dataType.FieldURLAllow]
	if v := inspect(reqData, env, dataType.FieldURLAllow, list, reqData.Uri); v.Matched {
		decision.SetResult(action.Allow, action.ReasonURLAllow, v.Detail)
	}
}

func RefererAllowList(reqData dataType.UserRequest, env *Env, decision *action.Decision) {
	list := env.RuleSet.AllowLists[dataType.FieldRefererAllow]
	if v := inspect(reqData, env, dataType.FieldRefererAllow, list, reqData.Referer); v.Matched {
		decision.SetResult(action.Allow, action.ReasonRefererAllow, v.Detail)
	}
}
