package web

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"
	"time"

	appLog "coursebot/internal/log"
	"coursebot/internal/model"
)

// The status views are plain self-contained HTML pages. The capture browser
// waits for data-ready="true" on the root element before screenshotting, so
// everything (including avatars, inlined as data URIs) must be in the
// initial document.

var groupTemplate = template.Must(template.New("group").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><style>
body { margin: 0; font-family: sans-serif; background: #ffffff; color: #333333; }
.page { width: 800px; padding: 40px; box-sizing: border-box; }
h1 { color: #000000; border-left: 20px solid #26a69a; padding-left: 20px; }
.row { display: flex; align-items: center; height: 120px; border-bottom: 1px solid #eeeeee; }
.avatar { width: 80px; height: 80px; border-radius: 50%; background: #e0e0e0; flex: none; }
.info { margin-left: 30px; }
.name { font-size: 28px; }
.badge { display: inline-block; padding: 4px 12px; margin-right: 12px; color: #ffffff; font-size: 20px; }
.badge.ongoing { background: #d32f2f; }
.badge.upcoming { background: #1976d2; }
.badge.none { background: #757575; }
.detail { color: #888888; font-size: 20px; }
</style></head>
<body>
<div class="page" data-ready="true">
<h1>Who&#39;s in class right now?</h1>
{{range .Rows}}<div class="row">
  {{if .AvatarURI}}<img class="avatar" src="{{.AvatarURI}}" alt="">{{else}}<div class="avatar"></div>{{end}}
  <div class="info">
    <div class="name">{{.Name}}</div>
    <div><span class="badge {{.StatusClass}}">{{.StatusLabel}}</span><span>{{.Summary}}</span></div>
    <div class="detail">{{.Detail}}</div>
  </div>
</div>
{{end}}</div>
</body>
</html>
`))

var todayTemplate = template.Must(template.New("today").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><style>
body { margin: 0; font-family: sans-serif; background: #ffffff; color: #333333; }
.page { width: 800px; padding: 40px; box-sizing: border-box; }
h1 { color: #000000; }
.course { background: #e3f2fd; border-radius: 10px; padding: 15px 20px; margin-bottom: 12px; }
.time { font-size: 26px; color: #000000; }
.what { font-size: 20px; margin-top: 8px; }
.footer { color: #888888; font-size: 18px; margin-top: 30px; }
</style></head>
<body>
<div class="page" data-ready="true">
<h1>{{.Owner}}&#39;s classes today</h1>
{{range .Courses}}<div class="course">
  <div class="time">{{.Time}}</div>
  <div class="what">{{.What}}</div>
</div>
{{end}}<div class="footer">generated at {{.GeneratedAt}}</div>
</div>
</body>
</html>
`))

type groupRow struct {
	Name        string
	AvatarURI   template.URL
	StatusClass string
	StatusLabel string
	Summary     string
	Detail      string
}

type groupViewData struct {
	Rows []groupRow
}

type todayCourse struct {
	Time string
	What string
}

type todayViewData struct {
	Owner       string
	Courses     []todayCourse
	GeneratedAt string
}

// handleGroupView serves the group status page the capture browser shoots.
//
// GET /view/group?group_id=...[&at=RFC3339]
func (s *Server) handleGroupView(w http.ResponseWriter, r *http.Request) {
	records, status, errMsg := s.resolveGroup(r)
	if errMsg != "" {
		http.Error(w, errMsg, status)
		return
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.UserID)
	}
	avatars := s.avatars.FetchAll(r.Context(), ids)

	data := groupViewData{Rows: make([]groupRow, 0, len(records))}
	for _, rec := range records {
		row := groupRow{Name: rec.DisplayName}
		if img, ok := avatars[rec.UserID]; ok {
			row.AvatarURI = template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img))
		}
		row.StatusClass = rec.Status.Kind.String()
		row.StatusLabel, row.Summary, row.Detail = describeStatus(rec.Status)
		data.Rows = append(data.Rows, row)
	}

	renderHTML(w, groupTemplate, data)
}

// handleTodayView serves the single-user page.
//
// GET /view/today?group_id=...&user_id=...[&at=RFC3339]
func (s *Server) handleTodayView(w http.ResponseWriter, r *http.Request) {
	remaining, binding, status, errMsg := s.resolveToday(r)
	if errMsg != "" {
		http.Error(w, errMsg, status)
		return
	}

	now, _ := s.requestNow(r)

	data := todayViewData{
		Owner:       binding.DisplayName,
		Courses:     make([]todayCourse, 0, len(remaining)),
		GeneratedAt: now.Format("2006/01/02 15:04:05"),
	}
	for _, ev := range remaining {
		loc := ev.Location
		if loc == "" {
			loc = "somewhere"
		}
		data.Courses = append(data.Courses, todayCourse{
			Time: clockRange(ev.Start, ev.End),
			What: ev.Summary + " @ " + loc,
		})
	}

	renderHTML(w, todayTemplate, data)
}

// describeStatus turns a ResolvedStatus into the label, summary and detail
// line the view shows for one user.
func describeStatus(st model.ResolvedStatus) (label, summary, detail string) {
	switch st.Kind {
	case model.StatusOngoing:
		return "in class", st.Event.Summary,
			clockRange(st.Event.Start, st.Event.End) + " (" + humanDuration(st.Remaining) + " left)"
	case model.StatusUpcoming:
		return "up next", st.Event.Summary,
			clockRange(st.Event.Start, st.Event.End) + " (in " + humanDuration(st.Wait) + ")"
	default:
		return "free", "no more classes", "done for today"
	}
}

func clockRange(start, end time.Time) string {
	return start.In(model.CST).Format("15:04") + "-" + end.In(model.CST).Format("15:04")
}

// humanDuration renders a duration as "N min" or "H h M min", matching the
// granularity the status rows need.
func humanDuration(d time.Duration) string {
	mins := int(d / time.Minute)
	if mins < 0 {
		mins = 0
	}
	if mins > 60 {
		return fmt.Sprintf("%d h %d min", mins/60, mins%60)
	}
	return fmt.Sprintf("%d min", mins)
}

func renderHTML(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		appLog.Error("failed to render status view", err)
	}
}
