package entity

import "testing"

func TestAppFromHost(t *testing.T) {
	cases := map[string]AppType{
		"":                        AppUnknown,
		"www.google.com":          AppGoogle,
		"fonts.gstatic.com":       AppGoogle,
		"www.youtube.com":         AppYouTube,
		"i.ytimg.com":             AppYouTube,
		"static.xx.fbcdn.net":     AppFacebook,
		"www.instagram.com":       AppInstagram,
		"web.whatsapp.com":        AppWhatsApp,
		"pbs.twimg.com":           AppTwitter,
		"x.com":                   AppTwitter,
		"occ-0-1.nflxvideo.net":   AppNetflix,
		"d1.cloudfront.net":       AppAmazon,
		"login.live.com":          AppMicrosoft,
		"gateway.icloud.com":      AppApple,
		"web.telegram.org":        AppTelegram,
		"v16.tiktokcdn.com":       AppTikTok,
		"audio-fa.scdn.co":        AppSpotify,
		"us04web.zoom.us":         AppZoom,
		"cdn.discordapp.com":      AppDiscord,
		"raw.githubusercontent.com": AppGitHub,
		"cdnjs.cloudflare.com":    AppCloudflare,
		"WWW.YOUTUBE.COM":         AppYouTube,
		"totally-unknown.example": AppHTTPS,
	}
	for host, want := range cases {
		if got := AppFromHost(host); got != want {
			t.Errorf("AppFromHost(%q) = %s, want %s", host, got, want)
		}
	}
}

// First match wins: yt3.ggpht.com carries both a Google pattern
// (ggpht) and a YouTube pattern (yt3.ggpht); the Google rule is
// declared first.
func TestAppFromHostOrder(t *testing.T) {
	if got := AppFromHost("yt3.ggpht.com"); got != AppGoogle {
		t.Fatalf("AppFromHost(yt3.ggpht.com) = %s, want Google", got)
	}
}

func TestAppTypeFromName(t *testing.T) {
	cases := map[string]struct {
		app AppType
		ok  bool
	}{
		"YouTube":   {AppYouTube, true},
		"youtube":   {AppYouTube, true},
		"Twitter/X": {AppTwitter, true},
		"DNS":       {AppDNS, true},
		"NoSuch":    {AppUnknown, false},
	}
	for name, want := range cases {
		app, ok := AppTypeFromName(name)
		if app != want.app || ok != want.ok {
			t.Errorf("AppTypeFromName(%q) = %s,%v", name, app, ok)
		}
	}
}

func TestAppTypeString(t *testing.T) {
	if AppType(200).String() != "Unknown" {
		t.Fatal("out-of-range app type should print Unknown")
	}
	if AppTwitter.String() != "Twitter/X" {
		t.Fatalf("Twitter label = %s", AppTwitter.String())
	}
}
