package utils

import (
	"fmt"
	"sync"

	"github.com/medama-io/go-useragent"
)

var uaParser = sync.OnceValue(useragent.NewParser)

// DescribeUserAgent condenses a User-Agent header for log lines.
func DescribeUserAgent(inputUA string) string {
	if inputUA == "" {
		return "-"
	}
	if len(inputUA) < 8 || inputUA[:8] != "Mozilla/" {
		return fmt.Sprintf("%q", inputUA)
	}

	ua := uaParser().Parse(inputUA)
	if ua.IsBot() {
		return fmt.Sprintf("Bot:%v", ua.Browser())
	}
	return fmt.Sprintf("Browser:%v,BrowserVersion:%v,OS:%v,Device:%v", ua.Browser(), ua.BrowserVersion(), ua.OS(), ua.Device())
}
