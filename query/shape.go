package query

import "oip.network/indexd/record"

// shapeRecord applies spec §4.G family 7's response-shape switches. It
// always returns a clone so the resolved/scored working copy is never
// mutated in place, mirroring resolve.Resolve's own copy-on-write stance.
func shapeRecord(rec *record.Record, p Params) *record.Record {
	if rec == nil {
		return nil
	}
	out := rec.Clone()

	if p.HideNullValues {
		stripNulls(out.Data)
	}
	if p.HideDateReadable {
		stripDateReadable(out.Data)
	}
	if !p.IncludeSigs {
		out.OIP.Signature = ""
	}
	if !p.IncludePubKeys {
		out.OIP.Creator.PublicKey = ""
	}
	return out
}

func stripNulls(data record.TemplateData) {
	for _, fields := range data {
		for name, v := range fields {
			if v == nil {
				delete(fields, name)
			}
		}
	}
}

func stripDateReadable(data record.TemplateData) {
	basic, ok := data["basic"]
	if !ok {
		return
	}
	delete(basic, "dateReadable")
}
