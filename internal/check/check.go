package check

import (
	"fmt"
	"time"
	"torii_shield/internal/action"
	"torii_shield/internal/config"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"
)

// Observer receives per field cache outcomes and the per client request
// counts kept by the flood check.
type Observer interface {
	ObserveCacheLookup(field dataType.Field, hit bool)
	ObserveClientRequests(count int64)
}

// Env is everything a check may consult for one request. Cache and Arena
// belong to the worker serving the request.
type Env struct {
	RuleSet   *config.RuleSet
	SharedMem *dataType.SharedMemory
	Cache     *dataType.InspectionCache // nil disables verdict caching
	Arena     *dataType.ArenaPool
	CacheRule dataType.CacheRule
	CCRule    dataType.CCRule
	Observer  Observer // optional
	Now       time.Time
}

func (e *Env) observeLookup(field dataType.Field, hit bool) {
	if e.Observer != nil {
		e.Observer.ObserveCacheLookup(field, hit)
	}
}

func (e *Env) observeClientRequests(count int64) {
	if e.Observer != nil {
		e.Observer.ObserveClientRequests(count)
	}
}

type CheckFunc func(dataType.UserRequest, *Env, *action.Decision)

// Pipeline is the order checks run in. The first check to settle the
// request wins.
var Pipeline = []CheckFunc{
	HTTPFlood,
	IPAllowList,
	IPBlockList,
	URLAllowList,
	RefererAllowList,
	FieldBlockList(dataType.FieldURL),
	FieldBlockList(dataType.FieldArgs),
	FieldBlockList(dataType.FieldUserAgent),
	FieldBlockList(dataType.FieldReferer),
	FieldBlockList(dataType.FieldCookie),
	FieldBlockList(dataType.FieldBody),
}

// Run passes the request through checks and returns the decision. A
// request no check settles is allowed.
func Run(reqData dataType.UserRequest, env *Env, checks []CheckFunc) action.Decision {
	decision := action.NewDecision()
	for _, checkFunc := range checks {
		checkFunc(reqData, env, decision)
		if decision.Done() {
			return *decision
		}
	}
	return action.Allowed(action.ReasonNone)
}

// inspect matches value against list, consulting the field's verdict cache
// first. Verdict keys carry the rule set version so a reload never serves
// stale results.
func inspect(reqData dataType.UserRequest, env *Env, field dataType.Field, list *dataType.RuleList, value string) dataType.Verdict {
	if list.Len() == 0 || value == "" {
		return dataType.Verdict{}
	}

	var (
		key   []byte
		cache *dataType.LRUCache[dataType.Verdict]
	)
	if env.Cache != nil && env.CacheRule.Enabled && env.Arena != nil {
		var (
			ok  bool
			err error
		)
		key, ok, err = utils.Fingerprint(env.Arena, field, env.RuleSet.Version, []byte(value), env.CacheRule.MaxKeySize)
		if err != nil {
			utils.LogError(reqData, fmt.Sprintf("fingerprint %s: %v", field, err), "inspect")
		}
		if ok {
			cache = env.Cache.For(field)
			if v, hit := cache.Get(key); hit {
				env.observeLookup(field, true)
				return v
			}
			env.observeLookup(field, false)
		}
	}

	rule, matched := list.Match(value)
	verdict := dataType.Verdict{Matched: matched, Detail: rule}
	if cache != nil {
		if err := cache.Put(key, verdict, env.Now); err != nil {
			utils.LogDebug(reqData, fmt.Sprintf("cache %s verdict: %v", field, err), "inspect")
		}
	}
	return verdict
}
