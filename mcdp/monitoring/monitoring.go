package monitoring

import (
	"fmt"
	"net/http"

	"github.com/newrelic/go-agent/v3/integrations/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/crosbyhealth/mcdp-app/conf"
	"github.com/crosbyhealth/mcdp-app/log"
)

var a *apm

type apm struct {
	App *newrelic.Application
}

func (a *apm) Start(msg string) *newrelic.Transaction {
	if a.App != nil {
		return a.App.StartTransaction(msg)
	}
	return nil
}

func (a *apm) End(txn *newrelic.Transaction) {
	if txn != nil {
		txn.End()
	}
}

// WrapHandler instruments the handler when the agent is configured and is a
// no-op passthrough otherwise.
func (a *apm) WrapHandler(pattern string, h http.HandlerFunc) (string, http.HandlerFunc) {
	if a.App != nil {
		return newrelic.WrapHandleFunc(a.App, pattern, h)
	}
	return pattern, h
}

func GetMonitor() *apm {
	if a == nil {
		target := conf.GetEnv("DEPLOYMENT_TARGET")
		if target == "" {
			target = "local"
		}
		licenseKey := conf.GetEnv("NEW_RELIC_LICENSE_KEY")
		app, err := newrelic.NewApplication(
			newrelic.ConfigAppName(fmt.Sprintf("MCDP-%s", target)),
			newrelic.ConfigLicense(licenseKey),
			newrelic.ConfigEnabled(licenseKey != ""),
			nrlogrus.ConfigStandardLogger(),
			func(cfg *newrelic.Config) {
				cfg.HighSecurity = true
			},
		)
		if err != nil {
			log.API.Error(err)
		}
		a = &apm{
			App: app,
		}
	}
	return a
}
