package entity

import "strings"

// AppType application label assigned to a flow.
type AppType uint8

const (
	AppUnknown AppType = iota
	AppHTTP
	AppHTTPS
	AppDNS
	AppTLS
	AppQUIC
	AppGoogle
	AppFacebook
	AppYouTube
	AppTwitter
	AppInstagram
	AppNetflix
	AppAmazon
	AppMicrosoft
	AppApple
	AppWhatsApp
	AppTelegram
	AppTikTok
	AppSpotify
	AppZoom
	AppDiscord
	AppGitHub
	AppCloudflare

	appCount
)

var appNames = map[AppType]string{
	AppUnknown:    "Unknown",
	AppHTTP:       "HTTP",
	AppHTTPS:      "HTTPS",
	AppDNS:        "DNS",
	AppTLS:        "TLS",
	AppQUIC:       "QUIC",
	AppGoogle:     "Google",
	AppFacebook:   "Facebook",
	AppYouTube:    "YouTube",
	AppTwitter:    "Twitter/X",
	AppInstagram:  "Instagram",
	AppNetflix:    "Netflix",
	AppAmazon:     "Amazon",
	AppMicrosoft:  "Microsoft",
	AppApple:      "Apple",
	AppWhatsApp:   "WhatsApp",
	AppTelegram:   "Telegram",
	AppTikTok:     "TikTok",
	AppSpotify:    "Spotify",
	AppZoom:       "Zoom",
	AppDiscord:    "Discord",
	AppGitHub:     "GitHub",
	AppCloudflare: "Cloudflare",
}

func (a AppType) String() string {
	if name, ok := appNames[a]; ok {
		return name
	}
	return "Unknown"
}

// AppTypeFromName resolves a label as printed by String, case-insensitively.
func AppTypeFromName(name string) (AppType, bool) {
	for a := AppType(0); a < appCount; a++ {
		if strings.EqualFold(appNames[a], name) {
			return a, true
		}
	}
	return AppUnknown, false
}

// appRule maps host substrings to an application. Rules are evaluated
// in declaration order, first match wins.
type appRule struct {
	substrings []string
	app        AppType
}

var appRules = []appRule{
	{[]string{"google", "gstatic", "googleapis", "ggpht", "gvt1"}, AppGoogle},
	{[]string{"youtube", "ytimg", "youtu.be", "yt3.ggpht"}, AppYouTube},
	{[]string{"facebook", "fbcdn", "fb.com", "fbsbx", "meta.com"}, AppFacebook},
	{[]string{"instagram", "cdninstagram"}, AppInstagram},
	{[]string{"whatsapp", "wa.me"}, AppWhatsApp},
	{[]string{"twitter", "twimg", "x.com", "t.co"}, AppTwitter},
	{[]string{"netflix", "nflxvideo", "nflximg"}, AppNetflix},
	{[]string{"amazon", "amazonaws", "cloudfront", "aws"}, AppAmazon},
	{[]string{"microsoft", "msn.com", "office", "azure", "live.com", "outlook", "bing"}, AppMicrosoft},
	{[]string{"apple", "icloud", "mzstatic", "itunes"}, AppApple},
	{[]string{"telegram", "t.me"}, AppTelegram},
	{[]string{"tiktok", "tiktokcdn", "musical.ly", "bytedance"}, AppTikTok},
	{[]string{"spotify", "scdn.co"}, AppSpotify},
	{[]string{"zoom"}, AppZoom},
	{[]string{"discord", "discordapp"}, AppDiscord},
	{[]string{"github", "githubusercontent"}, AppGitHub},
	{[]string{"cloudflare", "cf-"}, AppCloudflare},
}

// AppFromHost classifies a hostname observed via SNI, HTTP Host or a
// DNS query. A non-empty host that matches nothing is encrypted
// traffic of unknown identity and maps to HTTPS.
func AppFromHost(host string) AppType {
	if host == "" {
		return AppUnknown
	}
	lower := strings.ToLower(host)
	for _, rule := range appRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				return rule.app
			}
		}
	}
	return AppHTTPS
}
