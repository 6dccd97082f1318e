package server

// indexHTML is the client page. It lists the notebook root, opens documents
// over the websocket and appends block outputs as they arrive.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>bashnotes</title>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uikit@3/dist/css/uikit.min.css">
<script src="https://cdn.jsdelivr.net/npm/uikit@3/dist/js/uikit.min.js"></script>
<style>
  #tree { position: fixed; top: 0; bottom: 0; left: 0; width: 320px; overflow-y: auto; padding: 20px; }
  #doc { margin-left: 350px; padding: 20px; }
</style>
</head>
<body>
<div id="tree"><ul class="uk-nav uk-nav-default" id="tree-root"></ul></div>
<div id="doc">Open a file</div>
<script>
(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var socket = new WebSocket(proto + location.host + "/ws");
  var current = null;

  function open(path) {
    current = path;
    socket.send(JSON.stringify({OpenFile: {path: path}}));
  }

  function renderTree(nodes, parent) {
    nodes.forEach(function (n) {
      var li = document.createElement("li");
      var a = document.createElement("a");
      a.href = "#";
      a.textContent = n.name;
      li.appendChild(a);
      if (n.dir) {
        li.className = "uk-parent";
        var sub = document.createElement("ul");
        sub.className = "uk-nav-sub";
        renderTree(n.children || [], sub);
        li.appendChild(sub);
      } else {
        a.onclick = function (e) { e.preventDefault(); open(n.path); };
      }
      parent.appendChild(li);
    });
  }

  socket.addEventListener("open", function () {
    socket.send(JSON.stringify("GetTree"));
  });

  socket.addEventListener("message", function (ev) {
    var msg;
    try { msg = JSON.parse(ev.data); } catch (e) { return; }
    var data = msg.data;
    switch (msg.id) {
    case "file-tree":
      var root = document.getElementById("tree-root");
      root.innerHTML = "";
      renderTree(data || [], root);
      break;
    case "document":
      if (data.path === current) document.getElementById("doc").innerHTML = data.html;
      break;
    case "error":
      UIkit.notification({message: data.error, status: "danger"});
      break;
    case "file-changed":
      break;
    default:
      var block = document.getElementById("block-" + msg.id);
      if (block) block.insertAdjacentHTML("beforeend", data.stdout + data.stderr);
    }
  });
})();
</script>
</body>
</html>
`
