package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jierlich/paywall/common"
	"github.com/jierlich/paywall/ledger"
)

var engine *ledger.Ledger

// Router builds the gin engine serving the paywall API. Split from Start so
// tests can drive it with httptest.
func Router(l *ledger.Ledger) *gin.Engine {
	engine = l
	r := gin.Default()
	paywallJsonApi(r)
	return r
}

func Start(l *ledger.Ledger) {
	r := Router(l)
	config := common.Config.Web
	var err error
	if config.PemFile != "" && config.KeyFile != "" {
		err = r.RunTLS(":"+config.Port, config.PemFile, config.KeyFile)
	} else {
		err = r.Run(":" + config.Port)
	}
	if err != nil {
		log.Println("api start error:", err)
	}
}

func CorsMiddleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		method := context.Request.Method

		context.Header("Access-Control-Allow-Origin", "*")
		context.Header("Access-Control-Allow-Credentials", "true")
		context.Header("Access-Control-Allow-Headers", "*")
		context.Header("Access-Control-Allow-Methods", "GET,HEAD,POST,PUT,DELETE,OPTIONS")
		context.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Content-Type")

		if method == "OPTIONS" {
			context.AbortWithStatus(http.StatusNoContent)
		}
		context.Next()
	}
}
