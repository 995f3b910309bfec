package check

import (
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"
)

func fieldValue(reqData dataType.UserRequest, field dataType.Field) string {
	switch field {
	case dataType.FieldURL, dataType.FieldURLAllow:
		return reqData.Uri
	case dataType.FieldArgs:
		return reqData.Args
	case dataType.FieldUserAgent:
		return reqData.UserAgent
	case dataType.FieldReferer, dataType.FieldRefererAllow:
		return reqData.Referer
	case dataType.FieldCookie:
		return reqData.Cookie
	case dataType.FieldBody:
		return string(reqData.Body)
	default:
		return ""
	}
}

// FieldBlockList returns the check blocking requests whose field matches
// the field's block list.
func FieldBlockList(field dataType.Field) CheckFunc {
	name := field.String() + " BlockList"
	return func(reqData dataType.UserRequest, env *Env, decision *action.Decision) {
		list := env.RuleSet.BlockLists[field]
		if v := inspect(reqData, env, field, list, fieldValue(reqData, field)); v.Matched {
			utils.LogInfo(reqData, "", name)
			decision.SetResult(action.Block, action.ReasonRule, field.String()+":"+v.Detail)
		}
	}
}
