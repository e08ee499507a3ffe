// Package defaults holds the bundled silo list used to seed an empty table and
// as the fallback collection when the table cannot be read.
package defaults

import (
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

// Center is the map centre used by the dashboard.
var Center = struct{ Lat, Lng float64 }{Lat: 10.8505, Lng: 78.6}

type seed struct {
	id, name, grain string
	lat, lng        float64
	amount, cap     float64
	temp, humidity  float64
	pest            types.PestActivity
	co2             float64
	status          types.Status
	updated         string
}

var seeds = []seed{
	{"silo-001", "Thanjavur Silo A1", "Rice (Ponni)", 10.7870, 79.1378, 420, 500, 28.5, 62, types.PestNone, 380, types.StatusNormal, "2026-02-09T08:30:00"},
	{"silo-002", "Thanjavur Silo A2", "Wheat", 10.7900, 79.1420, 310, 500, 34.2, 78, types.PestModerate, 520, types.StatusWarning, "2026-02-09T08:28:00"},
	{"silo-003", "Madurai Storage B1", "Maize", 9.9252, 78.1198, 180, 300, 30.1, 55, types.PestLow, 400, types.StatusNormal, "2026-02-09T08:25:00"},
	{"silo-004", "Coimbatore Silo C1", "Rice (Basmati)", 11.0168, 76.9558, 490, 500, 38.7, 85, types.PestHigh, 680, types.StatusCritical, "2026-02-09T08:32:00"},
	{"silo-005", "Trichy Silo D1", "Millet (Ragi)", 10.7905, 78.7047, 220, 400, 27.3, 48, types.PestNone, 350, types.StatusNormal, "2026-02-09T08:20:00"},
	{"silo-006", "Salem Storage E1", "Groundnut", 11.6643, 78.1460, 150, 250, 31.5, 70, types.PestLow, 410, types.StatusNormal, "2026-02-09T08:18:00"},
	{"silo-007", "Erode Silo F1", "Turmeric", 11.3410, 77.7172, 95, 200, 36.0, 82, types.PestModerate, 590, types.StatusWarning, "2026-02-09T08:15:00"},
	{"silo-008", "Tirunelveli Silo G1", "Rice (Seeraga Samba)", 8.7139, 77.7567, 340, 400, 29.8, 60, types.PestNone, 370, types.StatusNormal, "2026-02-09T08:22:00"},
	{"silo-009", "Vellore Silo H1", "Maize", 12.9165, 79.1325, 260, 350, 33.2, 72, types.PestLow, 450, types.StatusWarning, "2026-02-20T10:00:00"},
	{"silo-010", "Kancheepuram Silo I1", "Rice (Ponni)", 12.8342, 79.7036, 380, 500, 29.0, 58, types.PestNone, 360, types.StatusNormal, "2026-02-20T10:05:00"},
	{"silo-011", "Tiruppur Silo J1", "Groundnut", 11.1085, 77.3411, 110, 200, 37.8, 80, types.PestHigh, 720, types.StatusCritical, "2026-02-20T10:10:00"},
	{"silo-012", "Dindigul Silo K1", "Millet (Bajra)", 10.3624, 77.9695, 195, 300, 28.0, 52, types.PestNone, 340, types.StatusNormal, "2026-02-20T10:15:00"},
}

// Silos returns a fresh copy of the bundled list.
func Silos() []types.Silo {
	out := make([]types.Silo, 0, len(seeds))
	for _, s := range seeds {
		co2 := s.co2
		updated, err := time.Parse("2006-01-02T15:04:05", s.updated)
		if err != nil {
			panic("defaults: bad timestamp " + s.updated)
		}
		out = append(out, types.Silo{
			ID:          s.id,
			Name:        s.name,
			Lat:         s.lat,
			Lng:         s.lng,
			GrainType:   s.grain,
			GrainAmount: s.amount,
			Capacity:    s.cap,
			Sensors: types.Sensors{
				Temperature:  s.temp,
				Humidity:     s.humidity,
				PestActivity: s.pest,
				CO2Level:     &co2,
			},
			Status:      s.status,
			LastUpdated: updated,
		})
	}
	return out
}

// SeedRows returns the bundled list as table rows without identifiers, so the
// store assigns its own.
func SeedRows() []types.Row {
	silos := Silos()
	rows := make([]types.Row, 0, len(silos))
	for _, s := range silos {
		r := types.ToRow(s)
		r.ID = ""
		rows = append(rows, r)
	}
	return rows
}
