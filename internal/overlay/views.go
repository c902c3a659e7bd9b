package overlay

import (
	"fmt"
	"strconv"

	"github.com/genricoloni/synest-overlay/internal/display"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

const (
	artSize       = "172"
	exampleSong   = "Dreams"
	exampleArtist = "Fleetwood Mac"
)

const baseCSS = `
html,body{margin:0;background:transparent;color:#fff;font-family:system-ui,sans-serif}
@keyframes fade{from{opacity:0}to{opacity:1}}
.widget{animation:fade .4s ease}
.card{display:flex;gap:2rem;height:200px;width:800px;box-sizing:border-box;padding:.75rem;border-style:solid;transition:background-color .7s,border-color .7s}
.card img{flex-shrink:0;aspect-ratio:1/1;object-fit:cover}
.info{display:flex;flex-direction:column;justify-content:center;gap:1rem;overflow:hidden;width:100%}
.song{margin:0;font-size:3rem;font-weight:700;white-space:nowrap;overflow:hidden;text-overflow:ellipsis}
.artist{margin:0;font-size:1.875rem;white-space:nowrap;overflow:hidden;text-overflow:ellipsis}
.bar{margin-right:4rem;height:.75rem;border-radius:9999px;overflow:hidden;background:rgba(255 255 255 / 50%)}
.fill{height:.75rem;border-radius:9999px;background:rgba(255 255 255 / 50%);transition:width 1s linear;will-change:width}
.text{margin:0;text-align:center;font-size:2.25rem;font-weight:700}
.banner{background:#dc2626;padding:.75rem;display:flex;justify-content:space-between;align-items:center;gap:1rem}
.banner details{font-size:.875rem}
.example{margin:3rem auto;width:600px;height:auto;gap:1rem;border-radius:18px;border:2px solid rgba(255 255 255 / 10%);background:rgba(0 0 0 / 20%);color:inherit;text-decoration:none}
.example .cover{flex-shrink:0;width:96px;height:96px;border-radius:6px;background:linear-gradient(135deg,#f59e0b,#7c3aed)}
.example .song{font-size:1.5rem}
.example .artist{font-size:1.25rem}
.example .bar{margin-right:1.5rem}
.example .fill{animation:cycle 100s steps(100) infinite}
@keyframes cycle{from{width:0}to{width:100%}}
`

// socketScript opens the push socket and swaps fragments into #mount.
// Fragments with the same data-key only patch styles so the progress
// transition keeps running.
const socketScript = `
(function(){
  var mount=document.getElementById("mount");
  function apply(html){
    var tpl=document.createElement("template");
    tpl.innerHTML=html.trim();
    var next=tpl.content.firstElementChild;
    var cur=mount.firstElementChild;
    if(cur&&next&&cur.dataset.key===next.dataset.key){
      cur.setAttribute("style",next.getAttribute("style")||"");
      var a=cur.querySelector(".fill"),b=next.querySelector(".fill");
      if(a&&b){a.style.width=b.style.width;}
      return;
    }
    mount.replaceChildren();
    if(next){mount.appendChild(next);}
  }
  function connect(){
    var proto=location.protocol==="https:"?"wss:":"ws:";
    var ws=new WebSocket(proto+"//"+location.host+document.body.dataset.ws);
    ws.onmessage=function(e){apply(e.data);};
    ws.onclose=function(){setTimeout(connect,2000);};
  }
  connect();
})();
`

func page(title string, bodyAttrs []g.Node, children ...g.Node) g.Node {
	return h.Doctype(
		h.HTML(
			h.Lang("en"),
			h.Head(
				h.Meta(h.Charset("utf-8")),
				h.Meta(h.Name("viewport"), h.Content("width=device-width, initial-scale=1")),
				g.El("title", g.Text(title)),
				g.El("style", g.Raw(baseCSS)),
			),
			h.Body(append(bodyAttrs, children...)...),
		),
	)
}

// overlayPage is the OBS browser source document
func overlayPage(v display.View, socketPath string) g.Node {
	return page("Now Playing",
		[]g.Node{g.Attr("data-ws", socketPath)},
		h.Div(h.ID("mount"), widget(v)),
		h.Script(g.Raw(socketScript)),
	)
}

// widget renders one frame of the overlay
func widget(v display.View) g.Node {
	if v.Empty {
		return h.Div(h.Class("widget"), g.Attr("data-key", v.Key))
	}

	if v.TextMode {
		return h.H1(h.Class("widget text"), g.Attr("data-key", v.Key), g.Text(v.Text))
	}

	return h.Div(
		h.Class("widget card"),
		g.Attr("data-key", v.Key),
		g.Attr("style", cardStyle(v)),
		g.If(v.AlbumArtURL != "",
			h.Img(
				h.Src(v.AlbumArtURL),
				h.Alt(v.Song),
				h.Width(artSize),
				h.Height(artSize),
				g.Attr("style", "border-radius:"+v.ArtRadius),
			),
		),
		h.Div(
			h.Class("info"),
			h.Div(
				h.P(h.Class("song"), g.Text(v.Song)),
				h.P(h.Class("artist"), g.Text(v.Artist)),
			),
			g.If(v.HasProgress,
				h.Div(h.Class("bar"),
					h.Div(h.Class("fill"), g.Attr("style", "width:"+percent(v.Progress))),
				),
			),
		),
	)
}

func cardStyle(v display.View) string {
	return fmt.Sprintf("background-color:%s;border-color:%s;border-width:%dpx;border-radius:%s",
		v.Background, v.Border, v.BorderWidth, v.CardRadius)
}

func percent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64) + "%"
}

// landingPage shows an example card and, unless dismissed, the migration notice
func landingPage(showBanner bool, userID string) g.Node {
	return page("Now Playing Overlay", nil,
		g.If(showBanner, migrationBanner()),
		h.Div(
			h.Class("card example"),
			h.ID("example"),
			h.Div(h.Class("cover")),
			h.Div(
				h.Class("info"),
				h.Div(
					h.P(h.Class("song"), g.Text(exampleSong)),
					h.P(h.Class("artist"), g.Text(exampleArtist)),
				),
				h.Div(h.Class("bar"), h.Div(h.Class("fill"))),
			),
		),
		h.P(
			g.Attr("style", "text-align:center"),
			g.Text("Add "),
			h.Code(g.Text("/"+userID)),
			g.Text(" as a browser source. Options: c=t, t=text, f=t, tr=t, o=<opacity>, br=0|25|50|75|100, b=f."),
		),
	)
}

func migrationBanner() g.Node {
	return h.Div(
		h.Class("banner"),
		h.ID("migration-banner"),
		h.Details(
			g.El("summary", g.Text("Important: the old overlay domain is being discontinued.")),
			h.P(g.Text("A trademark notice was filed against the old domain. The overlay has moved to a new address.")),
			h.P(g.Text("Please update your OBS browser source URL. The old domain will stop working soon.")),
		),
		g.El("form",
			h.Method("post"),
			h.Action("/banner/dismiss"),
			h.Button(h.Type("submit"), g.Attr("aria-label", "Dismiss banner"), g.Text("Dismiss")),
		),
	)
}
