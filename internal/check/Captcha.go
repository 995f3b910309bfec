package check

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"strconv"
	"strings"
	"time"
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"
)

// Verification applies the outcome of a client's secondary verification.
// A pass lifts the client's ban. A failure is counted on its bucket and in
// its statistics; once the statistics block it the result is Block,
// otherwise the client is challenged again.
func Verification(reqData dataType.UserRequest, sharedMem *dataType.SharedMemory, passed bool, now time.Time) action.Decision {
	addr := reqData.Addr
	if passed {
		if sharedMem.TokenBuckets != nil {
			sharedMem.TokenBuckets.ResetBan(addr)
		}
		if sharedMem.Statistics != nil {
			sharedMem.Statistics.ClearBadCaptcha(addr)
		}
		utils.LogInfo(reqData, "", "Verification passed")
		return action.Allowed(action.ReasonNone)
	}

	var failures uint32
	if sharedMem.TokenBuckets != nil {
		n, err := sharedMem.TokenBuckets.RecordBadVerification(addr, now)
		if err != nil {
			utils.LogError(reqData, err.Error(), "Verification")
		}
		failures = n
	}
	if sharedMem.Statistics != nil {
		stat, err := sharedMem.Statistics.RecordBadCaptcha(addr, now)
		if err != nil {
			utils.LogError(reqData, err.Error(), "Verification")
		} else if stat.IsBlocked {
			utils.LogInfo(reqData, "", "Verification failed, blocking")
			return action.Denied(action.ReasonVerificationFailed)
		}
	}

	utils.LogInfo(reqData, "", fmt.Sprintf("Verification failed %d times", failures))
	decision := action.NewDecision()
	decision.SetResult(action.Captcha, action.ReasonVerificationFailed, "")
	return *decision
}

// GenVerificationToken signs a verification report for ip. The component
// that ran the captcha posts the token next to ip and result.
func GenVerificationToken(secret, ip, result string, now time.Time) string {
	timeNow := now.Unix()
	return fmt.Sprintf("%d:%s", timeNow, verificationMAC(secret, ip, result, timeNow))
}

// VerifyVerificationToken checks a token made by GenVerificationToken. A
// token older than validFor, or that far in the future, is refused.
func VerifyVerificationToken(secret, ip, result, token string, validFor time.Duration, now time.Time) bool {
	if secret == "" {
		return false
	}
	timestamp, expectedHash, ok := strings.Cut(token, ":")
	if !ok {
		return false
	}
	parsedTimestamp, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(parsedTimestamp, 0))
	if skew > validFor || skew < -validFor {
		return false
	}

	computedHash := verificationMAC(secret, ip, result, parsedTimestamp)
	return hmac.Equal([]byte(computedHash), []byte(expectedHash))
}

func verificationMAC(secret, ip, result string, timestamp int64) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d|%s|%s|VERIFICATION-REPORT", timestamp, ip, result)))
	return fmt.Sprintf("%x", mac.Sum(nil))
}
