// Package apps maps running process identifiers to friendly application
// names. The mapping is a best-effort guess at which application uses the
// microphone; it plays no part in detection.
package apps

import "strings"

// App is a known microphone consumer.
type App string

// Known applications, in lookup priority order.
const (
	AppZoom      App = "Zoom"
	AppTeams     App = "Microsoft Teams"
	AppWebex     App = "Webex"
	AppSlack     App = "Slack"
	AppDiscord   App = "Discord"
	AppSkype     App = "Skype"
	AppFaceTime  App = "FaceTime"
	AppSignal    App = "Signal"
	AppOBS       App = "OBS Studio"
	AppAudacity  App = "Audacity"
	AppDictation App = "Dictation"
	AppChrome    App = "Google Chrome"
	AppFirefox   App = "Firefox"
	AppSafari    App = "Safari"
)

type entry struct {
	app App
	ids []string // lower-case process names or bundle identifiers
}

// table is ordered so dedicated call and recording apps win over browsers,
// which are often running without using the microphone.
var table = []entry{
	{AppZoom, []string{"zoom", "zoom.us", "cpthost", "us.zoom.xos"}},
	{AppTeams, []string{"teams", "teams-for-linux", "ms-teams", "microsoft teams", "com.microsoft.teams2"}},
	{AppWebex, []string{"webex", "ciscowebexstart", "com.cisco.webexmeetingsapp"}},
	{AppSlack, []string{"slack", "com.tinyspeck.slackmacgap"}},
	{AppDiscord, []string{"discord", "com.hnc.discord"}},
	{AppSkype, []string{"skype", "skypeforlinux", "com.skype.skype"}},
	{AppFaceTime, []string{"facetime", "com.apple.facetime"}},
	{AppSignal, []string{"signal", "signal-desktop", "org.whispersystems.signal-desktop"}},
	{AppOBS, []string{"obs", "obs64", "com.obsproject.obs-studio"}},
	{AppAudacity, []string{"audacity", "org.audacityteam.audacity"}},
	{AppDictation, []string{"nerd-dictation", "dictationim"}},
	{AppChrome, []string{"chrome", "google-chrome", "chromium", "chromium-browser", "com.google.chrome"}},
	{AppFirefox, []string{"firefox", "firefox-esr", "org.mozilla.firefox"}},
	{AppSafari, []string{"safari", "com.apple.safari"}},
}

var index = buildIndex()

func buildIndex() map[string]int {
	idx := make(map[string]int)
	for i, e := range table {
		for _, id := range e.ids {
			idx[id] = i
		}
	}
	return idx
}

// Lookup returns the highest-priority known application among running.
// Identifiers are matched case-insensitively, with a trailing ".exe" ignored.
func Lookup(running []string) (string, bool) {
	best := -1
	for _, id := range running {
		key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(id)), ".exe")
		if i, ok := index[key]; ok && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return string(table[best].app), true
}
