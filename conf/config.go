package conf

/*
   Package conf wraps viper for the mcdp app. Configuration is read once from
   an env-format file when the package is loaded; anything not present in the
   file is looked up in the process environment. The file, once loaded, is
   treated as immutable for the lifetime of the process (tests being the
   exception, via SetEnv/UnsetEnv).
*/

import (
	"os"
	"reflect"
	"strconv"
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// An instance of the viper struct containing the conf information. Only made
// accessible through public functions GetEnv, SetEnv, etc.
var envVars viper.Viper

const (
	configgood    uint8 = 0
	noconfigfound uint8 = 2
)

var state uint8 = configgood

func setup(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("local")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	// Viper is lazy, do the read and parse of the config file
	if err := v.ReadInConfig(); err != nil {
		state = noconfigfound
	}
	return v
}

func init() {
	// Possible config file locations: local dev and deployed, respectively.
	locations := []string{
		"/go/src/github.com/crosbyhealth/mcdp-app/shared_files/decrypted",
		"/etc/mcdp",
	}

	if success, loc := findEnv(locations); success {
		envVars = *setup(loc)
	} else {
		state = noconfigfound
	}
}

func findEnv(locations []string) (bool, string) {
	for _, loc := range locations {
		if _, err := os.Stat(loc + "/local.env"); err == nil {
			return true, loc
		}
	}
	return false, ""
}

// GetEnv retrieves the value stored in conf. If it does not exist in either
// the config file or the environment, an empty string is returned.
func GetEnv(key string) string {
	if state == configgood {
		if value := envVars.GetString(key); value != "" {
			return value
		}
		// The key may exist only in the environment; copy it over to conf to
		// prevent additional OS calls.
		if value, ok := os.LookupEnv(key); ok {
			envVars.Set(key, value)
			return value
		}
		return ""
	}
	return os.Getenv(key)
}

// LookupEnv augments os.LookupEnv to look in the viper struct first.
func LookupEnv(key string) (string, bool) {
	if state == configgood {
		if value := envVars.Get(key); value != nil && value != "" {
			return value.(string), true
		}
		if v, exist := os.LookupEnv(key); exist {
			envVars.Set(key, v)
			return v, exist
		}
		return "", false
	}
	return os.LookupEnv(key)
}

// SetEnv adds key values into conf. This function should only be used either
// in this package itself or testing. The protect parameter is type *testing.T,
// and is there to ensure developers knowingly use it in the appropriate scope.
func SetEnv(protect *testing.T, key string, value string) error {
	var err error
	if state == configgood {
		envVars.Set(key, value)
	} else {
		err = os.Setenv(key, value)
	}
	return err
}

// UnsetEnv "unsets" a variable. Like SetEnv, this should only be used either
// in this package itself or testing.
func UnsetEnv(protect *testing.T, key string) error {
	if state == configgood {
		envVars.Set(key, "")
	}
	return os.Unsetenv(key)
}

// Checkout hydrates the provided struct pointer from conf. Fields are matched
// by their `conf` tag, with `conf_default` applied when the variable is unset.
// Supported field types are string, int, and bool.
func Checkout(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("conf: Checkout requires a pointer to a struct")
	}

	rt := rv.Elem().Type()
	values := make(map[string]interface{}, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		key, ok := field.Tag.Lookup("conf")
		if !ok {
			continue
		}

		raw := GetEnv(key)
		if raw == "" {
			raw = field.Tag.Get("conf_default")
		}
		if raw == "" {
			continue
		}

		switch field.Type.Kind() {
		case reflect.Int, reflect.Int64, reflect.Uint:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return errors.Wrapf(err, "conf: invalid integer for %s", key)
			}
			values[field.Name] = n
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return errors.Wrapf(err, "conf: invalid bool for %s", key)
			}
			values[field.Name] = b
		default:
			values[field.Name] = raw
		}
	}

	return mapstructure.Decode(values, v)
}
