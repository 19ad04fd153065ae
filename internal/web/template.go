package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/signal-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime":     formatUptime,
	"phaseClass": func(p interface{}) string { return strings.ToLower(fmt.Sprint(p)) },
}).Parse(indexHTML))

var uptimeUnits = []struct {
	suffix string
	size   time.Duration
}{
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// formatUptime renders d as "3d 4h 5m 6s", omitting leading zero units.
func formatUptime(d time.Duration) string {
	var parts []string
	for _, u := range uptimeUnits {
		n := d / u.size
		d -= n * u.size
		if n == 0 && len(parts) == 0 && u.size != time.Second {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
	}
	return strings.Join(parts, " ")
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Signal Controller</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1.1em; margin-top: 1.5em; }
table { border-collapse: collapse; width: 100%; }
td, th { text-align: left; padding: 3px 10px; border-bottom: 1px solid #e4e4e4; }
.green { color: green; font-weight: bold; }
.yellow { color: #c90; font-weight: bold; }
.red { color: #b00; }
.connected { color: green; }
.disconnected { color: #b00; }
#live-dot { display: inline-block; width: 9px; height: 9px; border-radius: 50%; margin-left: 8px; background: orange; }
#live-dot.ok { background: green; }
#live-dot.err { background: #b00; }
</style>
</head>
<body>
<h1>Signal Controller<span id="live-dot" title="connecting"></span></h1>

<h2>Lanes</h2>
<table>
<tr><th>Lane</th><th>Signal</th><th>Queued</th><th>Waiting</th><th>Served</th><th>Passed</th></tr>
{{range .Lanes}}<tr id="lane-{{.ID}}">
<td>{{.ID}}</td>
<td class="phase {{phaseClass .Phase}}">{{.Phase}}</td>
<td class="queued">{{.Queued}}</td>
<td class="waiting">{{.Waiting}}</td>
<td class="served">{{.Served}}</td>
<td class="passed">{{.Passed}}</td>
</tr>
{{end}}<tr><th>Total</th><td></td><td id="total-queued">{{.TotalQueued}}</td><td></td><td></td><td id="total-passed">{{.TotalPassed}}</td></tr>
</table>

<h2>Controller</h2>
<table>
<tr><th>Active</th><td id="active">{{if .ActiveLane}}{{.ActiveLane}} {{.ActivePhase}}{{else}}none{{end}}</td></tr>
<tr><th>Cycles</th><td id="cycles">{{.Cycles}}</td></tr>
<tr><th>Cycle ID</th><td id="cycle">{{.Cycle}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Green</th><td>{{.Config.Timing.MinGreen}}-{{.Config.Timing.MaxGreen}} units</td></tr>
<tr><th>Yellow</th><td>{{.Config.Timing.Yellow}} units</td></tr>
<tr><th>Starvation</th><td>after {{.Config.Timing.StarvationThreshold}} cycles, +{{.Config.Timing.StarvationBonus}} units</td></tr>
<tr><th>Time unit</th><td>{{.Config.UnitMs}}ms</td></tr>
<tr><th>Feed</th><td>{{.Config.Feed}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = cls;
    dot.title = title;
  }

  function setText(id, v) {
    var el = document.getElementById(id);
    if (el) { el.textContent = v; }
  }

  function apply(s) {
    (s.lanes || []).forEach(function(l) {
      var row = document.getElementById("lane-" + l.id);
      if (!row) { return; }
      var ph = row.querySelector(".phase");
      ph.textContent = l.phase;
      ph.className = "phase " + l.phase.toLowerCase();
      row.querySelector(".queued").textContent = l.queued;
      row.querySelector(".waiting").textContent = l.waiting;
      row.querySelector(".served").textContent = l.served;
      row.querySelector(".passed").textContent = l.passed;
    });
    setText("total-queued", s.totals.queued);
    setText("total-passed", s.totals.passed);
    setText("active", s.active_lane ? s.active_lane + " " + s.active_phase : "none");
    setText("cycles", s.cycles);
    setText("cycle", s.cycle || "");
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/live");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onmessage = function(e) {
      try { apply(JSON.parse(e.data).status); } catch (err) {}
    };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Precompute the derived values the template shows.
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		TotalQueued int
		TotalPassed int
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		TotalQueued: snap.TotalQueued(),
		TotalPassed: snap.TotalPassed(),
	}
	indexTmpl.Execute(w, data)
}
