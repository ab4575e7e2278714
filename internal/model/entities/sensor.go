package entities

// Silo identifiers. Exactly two silos are monitored.
const (
	Silo1 = 1
	Silo2 = 2
)

// Silos lists the monitored silos in display order.
var Silos = [...]int{Silo1, Silo2}

// ValidSilo reports whether id names a monitored silo.
func ValidSilo(id int) bool {
	return id == Silo1 || id == Silo2
}

// SiloStatus is the traffic-light classification shown next to a reading.
type SiloStatus string

const (
	StatusNormal  SiloStatus = "normal"
	StatusWarning SiloStatus = "warning"
	StatusDanger  SiloStatus = "danger"
)

// TemperatureWarning is the temperature (°C) above which a silo is flagged.
const TemperatureWarning = 50.0

func TemperatureStatus(celsius float64) SiloStatus {
	if celsius > TemperatureWarning {
		return StatusWarning
	}
	return StatusNormal
}
