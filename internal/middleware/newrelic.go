package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// TransactionAttributes decorates the New Relic transaction started by
// nrgin with the route, its identifiers and any handler errors. It is a
// no-op when no transaction is in flight.
func TransactionAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		txn := nrgin.Transaction(c)
		if txn == nil {
			return
		}
		txn.AddAttribute("route", c.FullPath())
		if id := c.Param("id"); id != "" {
			txn.AddAttribute("route.id", id)
		}
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
