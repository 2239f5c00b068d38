package esigin

import (
	"net"
	"net/http"
	"strings"
)

// RequestVars derives esi:vars values from the incoming request. Cookies and
// query parameters use the dictionary form, e.g. $(HTTP_COOKIE{session}) and
// $(QUERY_STRING{page}). Empty values are omitted so token fallbacks apply.
func RequestVars(r *http.Request) map[string]string {
	vars := make(map[string]string)
	if r == nil {
		return vars
	}
	set := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			vars[k] = v
		}
	}
	set("HTTP_HOST", r.Host)
	set("HTTP_USER_AGENT", r.UserAgent())
	set("HTTP_REFERER", r.Referer())
	set("HTTP_ACCEPT_LANGUAGE", r.Header.Get("Accept-Language"))
	if r.URL != nil {
		set("QUERY_STRING", r.URL.RawQuery)
		set("REQUEST_PATH", r.URL.Path)
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				set("QUERY_STRING{"+k+"}", vs[0])
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		set("REMOTE_ADDR", host)
	} else {
		set("REMOTE_ADDR", r.RemoteAddr)
	}
	for _, ck := range r.Cookies() {
		set("HTTP_COOKIE{"+ck.Name+"}", ck.Value)
	}
	return vars
}
