package views

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/auth"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/defaults"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

//go:embed templates
var viewsFS embed.FS

var pageTmpl *template.Template

var funcs = template.FuncMap{
	"oneDecimal": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"timestamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("02 Jan 2006 15:04 UTC")
	},
}

// loadTemplatesFromFS parses the page templates under dir. Tests use it with
// broken file systems.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	tmpl, err := template.New("pages").Funcs(funcs).ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	pageTmpl = tmpl
	return nil
}

// LoadTemplates parses the embedded templates. Call it during startup; the
// server should not start if it fails.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// SiloCard is one silo as the dashboard shows it.
type SiloCard struct {
	types.Silo
	FillPercent      int
	TemperatureAlert bool
	HumidityAlert    bool
	Pending          bool
}

type RoleOption struct {
	Value    string
	Label    string
	Selected bool
}

type DashboardData struct {
	Email     string
	RoleLabel string
	CanManage bool
	CanDelete bool
	Silos     []SiloCard
	Critical  int
	Warning   int
	Normal    int
	LoadError string
	Pending   int
	CenterLat float64
	CenterLng float64
}

// NewDashboardData builds the dashboard view model; silos are listed most
// severe first.
func NewDashboardData(s auth.Session, silos []types.Silo, loadErr error, pending int) *DashboardData {
	counts := types.CountByStatus(silos)
	d := &DashboardData{
		Email:     s.Email,
		RoleLabel: roleLabel(s.Role),
		CanManage: s.CanManage(),
		CanDelete: s.CanDelete(),
		Critical:  counts[types.StatusCritical],
		Warning:   counts[types.StatusWarning],
		Normal:    counts[types.StatusNormal],
		Pending:   pending,
		CenterLat: defaults.Center.Lat,
		CenterLng: defaults.Center.Lng,
	}
	if loadErr != nil {
		d.LoadError = loadErr.Error()
	}
	for _, silo := range types.SortBySeverity(silos) {
		d.Silos = append(d.Silos, SiloCard{
			Silo:             silo,
			FillPercent:      silo.FillPercent(),
			TemperatureAlert: silo.Sensors.TemperatureAlert(),
			HumidityAlert:    silo.Sensors.HumidityAlert(),
			Pending:          silo.IsLocal(),
		})
	}
	return d
}

func roleLabel(r auth.Role) string {
	for _, opt := range auth.Roles {
		if opt.Role == r {
			return opt.Label
		}
	}
	return string(r)
}

type LoginData struct {
	Email string
	Error string
	Roles []RoleOption
}

// NewLoginData lists every role, with selected preselected.
func NewLoginData(email, selected, errMsg string) *LoginData {
	d := &LoginData{Email: email, Error: errMsg}
	if selected == "" {
		selected = string(auth.RoleViewer)
	}
	for _, opt := range auth.Roles {
		d.Roles = append(d.Roles, RoleOption{
			Value:    string(opt.Role),
			Label:    opt.Label,
			Selected: string(opt.Role) == selected,
		})
	}
	return d
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if pageTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return pageTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

// RenderSiloList executes only the silo list partial.
func RenderSiloList(w io.Writer, data *DashboardData) error {
	if pageTmpl == nil {
		return errors.New("silo list template not loaded: call views.LoadTemplates during startup")
	}
	return pageTmpl.ExecuteTemplate(w, "partials/silos.html", data)
}

func RenderLogin(w io.Writer, data *LoginData) error {
	if pageTmpl == nil {
		return errors.New("login template not loaded: call views.LoadTemplates during startup")
	}
	return pageTmpl.ExecuteTemplate(w, "login.html", data)
}
