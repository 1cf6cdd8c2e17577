package config

// CookieTemplate names the session cookie. The cookie is always HttpOnly
// and SameSite=Lax; Secure follows SessionManager.SecureCookies.
type CookieTemplate struct {
	Name string `yaml:"name" default:"sid"`
	Path string `yaml:"path" default:"/"`
}
