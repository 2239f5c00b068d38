package esigin

import (
	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/pkg/esi"
)

// setResultContext adds the counters of one processed body to the request
// context, where the access logger picks them up.
func setResultContext(c *gin.Context, res *esi.Result) {
	if c == nil || res == nil {
		return
	}
	c.Set(DirectivesKey, c.GetInt(DirectivesKey)+res.Directives)
	c.Set(FailuresKey, c.GetInt(FailuresKey)+len(res.Failures))
	if res.DepthLimited {
		c.Set(DepthLimitedKey, true)
	}
}
