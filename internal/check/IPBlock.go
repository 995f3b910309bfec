package check

import (
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"
)

func IPBlockList(reqData dataType.UserRequest, env *Env, decision *action.Decision) {
	if !reqData.Addr.IsValid() {
		return
	}
	if source, ok := env.RuleSet.Trie(reqData.Addr, false).Contains(reqData.Addr); ok {
		utils.LogInfo(reqData, "", "IPBlockList")
		decision.SetResult(action.Block, action.ReasonIPBlock, string(source))
	}
}
