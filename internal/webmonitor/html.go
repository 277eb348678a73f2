package webmonitor

import (
	"html/template"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/health"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/history"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/stream"
)

type sparkCard struct {
	Metric history.Metric
	Label  string
}

type panelData struct {
	ID         string
	State      string
	Summary    *stream.Summary
	Detections int
	Sparklines []sparkCard
}

type dashboardData struct {
	Health health.View
	Panels []panelData
	Width  int
	Height int
}

func (s *Server) dashboard() dashboardData {
	data := dashboardData{
		Health: s.health.View(),
		Width:  s.cfg.SparklineWidth,
		Height: s.cfg.SparklineHeight,
	}
	for _, sess := range s.sessions.Sessions() {
		p := panelData{
			ID:         sess.ID(),
			State:      sess.State().String(),
			Summary:    sess.Summary(),
			Detections: len(sess.Detections()),
		}
		for _, st := range sparklineStyles {
			p.Sparklines = append(p.Sparklines, sparkCard{
				Metric: st.Metric,
				Label:  s.renderSparkline(sess, st.Metric).Label,
			})
		}
		data.Panels = append(data.Panels, p)
	}
	return data
}

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Live Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { background:#111; color:#ddd; font-family:sans-serif; margin:16px; }
        table { border-collapse:collapse; font-size:0.85rem; margin-bottom:16px; }
        th, td { border-bottom:1px solid #333; padding:4px 8px; text-align:right; }
        th:first-child, td:first-child { text-align:left; }
        .error { color:#f66; margin-bottom:8px; }
        .panels { display:grid; grid-template-columns:repeat(auto-fill, minmax(420px, 1fr)); gap:16px; }
        .panel { background:#1b1b1b; border-radius:6px; padding:12px; }
        .panel img.stream { width:100%; background:#000; }
        .sparks { display:flex; gap:8px; flex-wrap:wrap; font-size:0.75rem; }
        .state { font-size:0.75rem; color:#999; }
    </style>
</head>
<body>
    <h1>Live Monitor</h1>

    <h2>Health</h2>
    <div class="error" id="health-error"{{if not .Health.Error}} hidden{{end}}>{{.Health.Error}}</div>
    <table>
        <thead>
            <tr>
                <th>Source</th><th>Alive</th><th>Last Frame Age (ms)</th><th>Source FPS</th>
                <th>Video FPS</th><th>YOLO FPS</th><th>YOLO ms</th><th>Queue ms</th><th>Frames</th>
            </tr>
        </thead>
        <tbody id="health-rows">
        {{range .Health.Rows}}
            <tr>
                <td>{{.Source}}</td>
                <td>{{if .Alive}}yes{{else}}no{{end}}</td>
                <td>{{.LastFrameAge}}</td>
                <td>{{printf "%.1f" .SourceFPS}}</td>
                <td>{{printf "%.1f" .VideoFPS}}</td>
                <td>{{printf "%.1f" .YoloFPS}}</td>
                <td>{{printf "%.1f" .YoloMs}}</td>
                <td>{{printf "%.1f" .QueueDelayMs}}</td>
                <td>{{.FrameCount}}</td>
            </tr>
        {{else}}
            <tr><td colspan="9">No sources yet…</td></tr>
        {{end}}
        </tbody>
    </table>

    <div class="panels">
    {{range .Panels}}
        <div class="panel" data-source="{{.ID}}">
            <h3>{{.ID}} <span class="state">{{.State}}</span></h3>
            <img class="stream" src="/stream/{{.ID}}" alt="{{.ID}} live stream">
            {{with .Summary}}
            <p>
                src {{printf "%.1f" .SourceFPS}} fps · video {{printf "%.1f" .VideoFPS}} fps ·
                yolo {{printf "%.1f" .DetectionFPS}} fps · {{printf "%.1f" .DetectionMs}} ms ·
                queue {{printf "%.1f" .QueueDelayMs}} ms · frame {{.FrameCount}}
            </p>
            {{else}}
            <p>Waiting for detections…</p>
            {{end}}
            <div class="sparks">
            {{$id := .ID}}
            {{range .Sparklines}}
                <figure>
                    <img class="spark" data-src="/api/sessions/{{$id}}/sparklines/{{.Metric}}.svg"
                         src="/api/sessions/{{$id}}/sparklines/{{.Metric}}.svg" width="{{$.Width}}" height="{{$.Height}}" alt="">
                    <figcaption>{{.Label}}</figcaption>
                </figure>
            {{end}}
            </div>
        </div>
    {{end}}
    </div>

    <script>
    const fmt = (v) => Number(v).toFixed(1);
    async function refreshHealth() {
        try {
            const view = await (await fetch('/api/health')).json();
            const err = document.getElementById('health-error');
            err.textContent = view.error || '';
            err.hidden = !view.error;
            const body = document.getElementById('health-rows');
            body.replaceChildren();
            const rows = view.rows || [];
            if (rows.length === 0) {
                const tr = body.insertRow();
                const td = tr.insertCell();
                td.colSpan = 9;
                td.textContent = 'No sources yet…';
            }
            for (const r of rows) {
                const tr = body.insertRow();
                for (const v of [r.source, r.alive ? 'yes' : 'no', r.last_frame_age_ms, fmt(r.source_fps),
                        fmt(r.video_fps), fmt(r.yolo_fps), fmt(r.yolo_ms), fmt(r.queue_delay_ms), r.frame_count]) {
                    tr.insertCell().textContent = v;
                }
            }
        } catch (e) {
            console.warn('health refresh failed', e);
        }
    }
    function refreshSparklines() {
        for (const img of document.querySelectorAll('img.spark')) {
            img.src = img.dataset.src + '?t=' + Date.now();
        }
    }
    setInterval(refreshHealth, 1000);
    setInterval(refreshSparklines, 1000);
    </script>
</body>
</html>
`))
