package server

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/store"
)

// frameBootstrap is injected into every served courseware document. It runs
// inside the frame: it jumps to the requested page section when the parent
// posts one, and tells the parent when the document is ready. Page display is
// driven entirely through this channel; the courseware's own markup is never
// rewritten for paging.
const frameBootstrap = `<script>
(function() {
  function showPage(selector) {
    var el = document.querySelector(selector);
    if (!el) return;
    el.scrollIntoView({ behavior: "smooth", block: "start" });
  }
  window.addEventListener("message", function(ev) {
    if (ev.data && ev.data.type === "page" && ev.data.selector) {
      showPage(ev.data.selector);
    }
  });
  function ready() {
    parent.postMessage({ type: "frameReady" }, window.location.origin);
  }
  if (document.readyState === "loading") {
    document.addEventListener("DOMContentLoaded", ready);
  } else {
    ready();
  }
})();
</script>`

// injectBootstrap places the frame bootstrap script before the closing body
// tag, or appends it when the document has none.
func injectBootstrap(html string) string {
	lower := strings.ToLower(html)
	if pos := strings.LastIndex(lower, "</body>"); pos >= 0 {
		return html[:pos] + frameBootstrap + "\n" + html[pos:]
	}
	return html + "\n" + frameBootstrap
}

var playerTemplate = template.Must(template.New("player").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
  html, body { margin: 0; height: 100%; font-family: system-ui, sans-serif; }
  .player { display: flex; height: 100%; }
  .catalog { width: 220px; overflow-y: auto; border-right: 1px solid #ddd; padding: 8px; }
  .catalog a { display: block; padding: 6px 8px; color: #333; text-decoration: none; border-radius: 4px; }
  .catalog a.current { background: #e8f0fe; color: #1a56db; }
  .stage { flex: 1; position: relative; }
  .stage iframe { width: 100%; height: 100%; border: 0; }
  .page-buttons { position: absolute; bottom: 16px; right: 16px; }
  .page-buttons button { padding: 8px 14px; margin-left: 8px; }
</style>
</head>
<body>
<div class="player">
  {{if .ShowCatalog}}
  <nav class="catalog">
    {{range .Pages}}
    <a href="#" data-page="{{.Index}}" {{if eq .Index $.PageIndex}}class="current"{{end}}>{{.Title}}</a>
    {{end}}
  </nav>
  {{end}}
  <div class="stage">
    <iframe id="frame" src="/frame/{{.Index}}" title="{{.Title}}" sandbox="allow-scripts allow-same-origin"></iframe>
    {{if .ShowPageButtons}}
    <div class="page-buttons">
      <button id="prev">上一页</button>
      <button id="next">下一页</button>
    </div>
    {{end}}
  </div>
</div>
<script>
(function() {
  var coursewareIndex = {{.Index}};
  var pageIndex = {{.PageIndex}};
  var selectors = {{.Selectors}};
  var frame = document.getElementById("frame");
  var frameReady = false;

  function showPage(i) {
    if (i < 0) i = 0;
    if (i >= selectors.length) i = selectors.length - 1;
    pageIndex = i;
    if (frameReady && selectors.length > 0) {
      frame.contentWindow.postMessage({ type: "page", selector: selectors[i] }, window.location.origin);
    }
    document.querySelectorAll(".catalog a").forEach(function(a) {
      a.classList.toggle("current", parseInt(a.dataset.page, 10) === i);
    });
  }

  window.addEventListener("message", function(ev) {
    if (ev.origin !== window.location.origin) return;
    if (ev.data && ev.data.type === "frameReady") {
      frameReady = true;
      showPage(pageIndex);
    }
  });

  var proto = window.location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + window.location.host + "/ws");
  ws.onmessage = function(ev) {
    var msg = JSON.parse(ev.data);
    if (msg.type !== "position") return;
    if (msg.coursewareIndex !== coursewareIndex) {
      window.location.href = "/player/" + msg.coursewareIndex + "/" + msg.pageIndex;
      return;
    }
    showPage(msg.pageIndex);
  };
  function gotoPage(i) {
    if (ws.readyState === WebSocket.OPEN) {
      ws.send(JSON.stringify({ type: "goto", coursewareIndex: coursewareIndex, pageIndex: i }));
    }
    showPage(i);
  }

  document.querySelectorAll(".catalog a").forEach(function(a) {
    a.addEventListener("click", function(ev) {
      ev.preventDefault();
      gotoPage(parseInt(a.dataset.page, 10));
    });
  });
  var prev = document.getElementById("prev");
  var next = document.getElementById("next");
  if (prev) prev.addEventListener("click", function() { gotoPage(pageIndex - 1); });
  if (next) next.addEventListener("click", function() { gotoPage(pageIndex + 1); });
  document.addEventListener("keydown", function(ev) {
    if (ev.key === "ArrowLeft" || ev.key === "PageUp") gotoPage(pageIndex - 1);
    if (ev.key === "ArrowRight" || ev.key === "PageDown") gotoPage(pageIndex + 1);
  });
})();
</script>
</body>
</html>
`))

type playerView struct {
	Title           string
	Index           int
	PageIndex       int
	Pages           []coursedeck.Page
	Selectors       []string
	ShowCatalog     bool
	ShowPageButtons bool
}

// renderPlayer writes the player shell for a courseware at a page position.
func renderPlayer(w http.ResponseWriter, cw *coursedeck.Courseware, index, pageIndex int, prefs store.Preferences) {
	selectors := make([]string, len(cw.Pages))
	for i, p := range cw.Pages {
		selectors[i] = p.SectionSelector
	}

	view := playerView{
		Title:           cw.Title,
		Index:           index,
		PageIndex:       pageIndex,
		Pages:           cw.Pages,
		Selectors:       selectors,
		ShowCatalog:     prefs.ShowCatalog && len(cw.Pages) > 1,
		ShowPageButtons: prefs.ShowPageButtons && len(cw.Pages) > 1,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := playerTemplate.Execute(w, view); err != nil {
		log.Printf("[Player] Template render failed: %v", err)
	}
}

// loadingPage is served while the active list is still converging.
const loadingPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="2"><title>Loading</title></head>
<body><p>Loading courseware…</p></body></html>`

// emptyPage is served when nothing is active and nothing is loading.
const emptyPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Coursedeck</title></head>
<body><p>No courseware loaded. Add a repository or drop an HTML file into the uploads directory.</p></body></html>`

func serveLoading(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, loadingPage)
}

func serveEmpty(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, emptyPage)
}
