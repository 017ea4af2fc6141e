package show

import (
	"fmt"
	"io"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes registers a /debug/ status surface reporting the
// server driver's current frame counter, tick period, and layer count,
// following the teacher's serialmux.AttachAdminRoutes/tsweb.Debugger
// pattern.
func (d *ServerDriver) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("tunnelcast-status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "frame_number: %d\n", d.FrameNumber())
		fmt.Fprintf(w, "tick_period: %s\n", d.tickPeriod)
		fmt.Fprintf(w, "layers: %d\n", len(d.mixer.Layers))
		io.WriteString(w, "running: ")
		if d.running.Load() {
			io.WriteString(w, "true\n")
		} else {
			io.WriteString(w, "false\n")
		}
	})
}
