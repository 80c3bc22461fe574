package callback

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed codes.yaml
var codesYAML []byte

type codeCatalog struct {
	Success string            `yaml:"success"`
	Unknown string            `yaml:"unknown"`
	Generic string            `yaml:"generic"`
	Codes   map[string]string `yaml:"codes"`
}

var catalog = mustLoadCatalog(codesYAML)

// SuccessCode is the only response code that denotes a completed payment.
var SuccessCode = catalog.Success

// UnknownCode is substituted when the gateway omits vnp_ResponseCode.
var UnknownCode = catalog.Unknown

func mustLoadCatalog(raw []byte) codeCatalog {
	cat, err := loadCatalog(raw)
	if err != nil {
		panic(err)
	}
	return cat
}

func loadCatalog(raw []byte) (codeCatalog, error) {
	var cat codeCatalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return codeCatalog{}, fmt.Errorf("decode response codes: %w", err)
	}
	if cat.Success == "" || cat.Unknown == "" || cat.Generic == "" {
		return codeCatalog{}, fmt.Errorf("response codes: success, unknown and generic are required")
	}
	if _, ok := cat.Codes[cat.Success]; !ok {
		return codeCatalog{}, fmt.Errorf("response codes: success code %q has no message", cat.Success)
	}
	for code, msg := range cat.Codes {
		if msg == "" {
			return codeCatalog{}, fmt.Errorf("response codes: empty message for %q", code)
		}
	}
	return cat, nil
}

// IsSuccessCode reports whether code means the gateway captured the payment.
func IsSuccessCode(code string) bool {
	return code == catalog.Success
}

// MessageFor returns the shopper-facing text for a response code.
// Unrecognized codes get the generic failure text, never "".
func MessageFor(code string) string {
	if msg, ok := catalog.Codes[code]; ok {
		return msg
	}
	return catalog.Generic
}

// KnownCodes lists every catalogued response code.
func KnownCodes() []string {
	out := make([]string, 0, len(catalog.Codes))
	for code := range catalog.Codes {
		out = append(out, code)
	}
	return out
}
