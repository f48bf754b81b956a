package models

// AudioQuality enumerates the stream quality tiers.
type AudioQuality int

const (
	QualityNormal AudioQuality = iota
	QualityHigh
	QualityHiFi
	QualityMaster
)

func (q AudioQuality) String() string {
	switch q {
	case QualityNormal:
		return "Normal"
	case QualityHigh:
		return "High"
	case QualityHiFi:
		return "HiFi"
	case QualityMaster:
		return "Master"
	}
	return "Normal"
}

// Param returns the tier name the streaming API expects in playback requests.
func (q AudioQuality) Param() string {
	switch q {
	case QualityNormal:
		return "LOW"
	case QualityHigh:
		return "HIGH"
	case QualityHiFi:
		return "LOSSLESS"
	case QualityMaster:
		return "HI_RES"
	}
	return "LOW"
}

// QualityFromParam maps the streaming API's tier token back to an AudioQuality.
func QualityFromParam(param string) AudioQuality {
	switch param {
	case "HI_RES":
		return QualityMaster
	case "LOSSLESS":
		return QualityHiFi
	case "HIGH":
		return QualityHigh
	}
	return QualityNormal
}

// ParseAudioQuality maps a configured tier name to an AudioQuality,
// falling back to Normal for unrecognized values.
func ParseAudioQuality(value string) AudioQuality {
	for _, q := range []AudioQuality{QualityNormal, QualityHigh, QualityHiFi, QualityMaster} {
		if q.String() == value {
			return q
		}
	}
	return QualityNormal
}
