package server

import (
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"torii_shield/internal/action"
	"torii_shield/internal/check"
	"torii_shield/internal/config"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"
)

func handleHealthCheck(w http.ResponseWriter, reqData dataType.UserRequest, ruleSet *config.RuleSet, cfg *config.MainConfig, sharedMem *dataType.SharedMemory) {
	var builder strings.Builder
	builder.WriteString("ok\n")
	builder.WriteString("version=")
	builder.WriteString(dataType.ToriiShieldVersion)
	builder.WriteString("\n")
	builder.WriteString("time=")
	builder.WriteString(time.Now().Format(time.RFC3339))
	builder.WriteString("\n")
	builder.WriteString("ts=")
	builder.WriteString(strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', 3, 64))
	builder.WriteString("\n")
	builder.WriteString("rules=")
	builder.WriteString(fmt.Sprintf("%016x", ruleSet.Version))
	builder.WriteString("\n")
	if sharedMem != nil && sharedMem.Slab != nil {
		builder.WriteString("shm=")
		builder.WriteString(strconv.FormatInt(sharedMem.Slab.UsedBytes(), 10))
		builder.WriteString("/")
		builder.WriteString(strconv.FormatInt(sharedMem.Slab.Capacity(), 10))
		builder.WriteString("\n")
	}
	builder.WriteString("sliver=")
	builder.WriteString(cfg.NodeName)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(builder.String())); err != nil {
		utils.LogError(reqData, "Error writing response: "+err.Error(), "handleHealthCheck")
	}
}

// handleVerification takes the outcome of a client's captcha from the
// component that verified it: form fields ip, result=pass|fail and token,
// the report signed with verification_secret (check.GenVerificationToken).
// The endpoint only exists while CC protection and a secret are configured.
func handleVerification(w http.ResponseWriter, r *http.Request, reqData dataType.UserRequest, cfg *config.MainConfig, sharedMem *dataType.SharedMemory) {
	if r.Method != http.MethodPost {
		http.Error(w, "405 - Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if sharedMem == nil || sharedMem.TokenBuckets == nil || cfg.VerificationSecret == "" {
		http.Error(w, "404 - Not Found", http.StatusNotFound)
		return
	}

	ip, result := r.FormValue("ip"), r.FormValue("result")
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		http.Error(w, "400 - Bad Request", http.StatusBadRequest)
		return
	}
	var passed bool
	switch result {
	case "pass":
		passed = true
	case "fail":
	default:
		http.Error(w, "400 - Bad Request", http.StatusBadRequest)
		return
	}

	if !check.VerifyVerificationToken(cfg.VerificationSecret, ip, result, r.FormValue("token"), cfg.VerificationValidTime, time.Now()) {
		utils.LogInfo(reqData, "", fmt.Sprintf("Verification report for %s refused: bad token", ip))
		http.Error(w, "403 - Forbidden", http.StatusForbidden)
		return
	}

	subject := reqData
	subject.RemoteIP = addr.String()
	subject.Addr = addr.Unmap()
	decision := check.Verification(subject, sharedMem, passed, time.Now())

	status, body := http.StatusOK, "good"
	switch decision.Get() {
	case action.Block:
		status, body = cfg.HTTPStatus, "blocked"
	case action.Captcha:
		status, body = http.StatusOK, "bad"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		utils.LogError(reqData, "Error writing response: "+err.Error(), "handleVerification")
	}
}
