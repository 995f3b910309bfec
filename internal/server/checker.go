package server

import (
	"fmt"
	"net/http"
	"torii_shield/internal/action"
	"torii_shield/internal/config"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"
)

const captchaRequired = "required"

// CheckMain answers the auth request for decision.
func CheckMain(w http.ResponseWriter, reqData dataType.UserRequest, decision action.Decision, cfg *config.MainConfig) {
	status, body := http.StatusOK, "OK"
	switch decision.Get() {
	case action.Allow:
	case action.Block:
		status, body = cfg.HTTPStatus, "Blocked"
		if decision.Reason() == action.ReasonBanned || decision.Reason() == action.ReasonRateExceeded {
			status = cfg.HTTPStatusCC
		}
	case action.Captcha:
		for _, name := range cfg.ConnectingCaptchaStatusHeaders {
			w.Header().Set(name, captchaRequired)
		}
		status, body = cfg.HTTPStatusCC, "Captcha"
	default:
		//should never happen
		utils.LogError(reqData, fmt.Sprintf("Error access in wrong state: %v", decision.Get()), "CheckMain")
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
		return
	}

	if decision.Reason() != action.ReasonNone {
		w.Header().Set("Torii-Reason", decision.Reason().String())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		utils.LogError(reqData, fmt.Sprintf("Error writing response: %v", err), "CheckMain")
	}
}
