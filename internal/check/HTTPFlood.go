package check

import (
	"fmt"
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"
)

const ModeCaptcha = "captcha"

// HTTPFlood spends a token from the client's bucket. Clients blocked for
// failing verification too often are refused before any token is spent.
func HTTPFlood(reqData dataType.UserRequest, env *Env, decision *action.Decision) {
	sharedMem := env.SharedMem
	if !env.CCRule.Enabled || sharedMem == nil || !reqData.Addr.IsValid() {
		return
	}

	if stats := sharedMem.Statistics; stats != nil {
		if stats.Blocked(reqData.Addr, env.Now) {
			utils.LogInfo(reqData, "", "HTTPFlood verification block")
			decision.SetResult(action.Block, action.ReasonVerificationFailed, "")
			return
		}
		if stat, err := stats.Touch(reqData.Addr, env.Now); err != nil {
			utils.LogError(reqData, fmt.Sprintf("ip statistics: %v", err), "HTTPFlood")
		} else {
			env.observeClientRequests(stat.Count)
			utils.LogDebug(reqData, fmt.Sprintf("%d requests this cycle", stat.Count), "HTTPFlood")
		}
	}

	if sharedMem.TokenBuckets == nil {
		return
	}
	d := sharedMem.TokenBuckets.Admit(reqData.Addr, env.Now)
	if d.Get() != action.Block {
		if d.Reason() == action.ReasonPoolExhausted {
			utils.LogError(reqData, "shared memory exhausted, admitting without a bucket", "HTTPFlood")
		}
		return
	}

	result := action.Block
	if env.CCRule.Mode == ModeCaptcha {
		result = action.Captcha
	}
	utils.LogInfo(reqData, "", fmt.Sprintf("HTTPFlood %s %s", result, d.Reason()))
	decision.SetResult(result, d.Reason(), "")
}
