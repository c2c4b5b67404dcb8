package calibration

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quakeloss/internal/model"
	"github.com/sells-group/quakeloss/internal/refdata"
)

// ModelSet is a collection of empirical curves of one loss kind, keyed by
// upper-case two-letter country code.
type ModelSet struct {
	Kind    model.LossKind
	Version string
	Models  map[string]Lognormal
}

type modelsDoc struct {
	XMLName xml.Name   `xml:"models"`
	Version string     `xml:"vstr,attr"`
	Type    string     `xml:"type,attr"`
	Models  []modelRow `xml:"model"`
}

type modelRow struct {
	CCode      string   `xml:"ccode,attr"`
	Theta      float64  `xml:"theta,attr"`
	Beta       float64  `xml:"beta,attr"`
	GNormValue float64  `xml:"gnormvalue,attr"`
	Alpha      *float64 `xml:"alpha,attr"`
}

// LoadModelsXML reads a fatality or economic model document:
//
//	<models vstr="2.2" type="fatality">
//	  <model ccode="AF" theta="11.613073" beta="0.180683" gnormvalue="1.0"/>
//	</models>
//
// alpha defaults to 1 when absent.
func LoadModelsXML(r io.Reader) (*ModelSet, error) {
	var doc modelsDoc
	if err := refdata.DecodeXML(r, &doc); err != nil {
		return nil, eris.Wrap(err, "calibration: parse models")
	}

	kind := model.LossKind(strings.ToLower(doc.Type))
	if kind != model.LossFatality && kind != model.LossEconomic {
		return nil, eris.Errorf("calibration: models type must be fatality or economic, got %q", doc.Type)
	}

	set := &ModelSet{Kind: kind, Version: doc.Version, Models: make(map[string]Lognormal, len(doc.Models))}
	for _, m := range doc.Models {
		code := strings.ToUpper(strings.TrimSpace(m.CCode))
		if code == "" {
			return nil, eris.New("calibration: model without ccode")
		}
		ln := Lognormal{Theta: m.Theta, Beta: m.Beta, L2G: m.GNormValue, Alpha: DefaultAlpha}
		if m.Alpha != nil {
			ln.Alpha = *m.Alpha
		}
		if !ln.Valid() {
			return nil, eris.Errorf("calibration: model %s has invalid parameters theta=%v beta=%v gnormvalue=%v", code, m.Theta, m.Beta, m.GNormValue)
		}
		set.Models[code] = ln
	}
	return set, nil
}
