package view

import (
	"encoding/json"
	"fmt"

	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/tiling"
)

// tilingRectangle adapts a workspace rectangle and the host's tiling
// configuration into a single tile's rectangle via the Tiling Engine.
func tilingRectangle(workspace Bounds, cfg config.TilingConfig, visibleCount, tileIndex int) Bounds {
	return tiling.Rectangle(tiling.Params{
		Workspace:    workspace,
		Mode:         tiling.Mode(cfg.Mode),
		Gap:          float64(cfg.Gap),
		Padding:      float64(cfg.Padding),
		Columns:      cfg.Columns,
		Rows:         cfg.Rows,
		VisibleCount: visibleCount,
		TileIndex:    tileIndex,
	})
}

// appFrameRuntimeJS builds the script injected into an app view immediately
// after load (unless the manifest opts out via window.injections.appFrame
// = false). It opens the message channel websocket (internal/host.Bridge)
// for appID/viewID and wires it into a small request/response and
// subscription shim so app frontends never touch the socket directly.
func appFrameRuntimeJS(appID string, viewID uint32, bridgeURL string) string {
	appIDJSON, _ := json.Marshal(appID)
	bridgeURLJSON, _ := json.Marshal(bridgeURL)
	return fmt.Sprintf(`(function () {
  if (window.__edenRuntime) return;

  var pending = new Map();
  var nextRequestID = 1;
  var listeners = new Map();
  var queue = [];
  var socket = new WebSocket(%s + "?app_id=" + encodeURIComponent(%s) + "&view_id=" + %d);

  function send(msg) {
    if (socket.readyState === WebSocket.OPEN) {
      socket.send(JSON.stringify(msg));
    } else {
      queue.push(msg);
    }
  }

  socket.addEventListener("open", function () {
    queue.forEach(function (msg) { socket.send(JSON.stringify(msg)); });
    queue = [];
  });

  socket.addEventListener("message", function (ev) {
    var msg = JSON.parse(ev.data);
    if (!msg || typeof msg !== "object") return;

    if (msg.type === "command-result") {
      var payload = msg.payload || {};
      var entry = pending.get(payload.request_id);
      if (!entry) return;
      pending.delete(payload.request_id);
      if (payload.error) {
        entry.reject(payload.error);
      } else {
        entry.resolve(payload.result);
      }
      return;
    }

    if (listeners.has(msg.type)) {
      listeners.get(msg.type).forEach(function (cb) {
        try {
          cb(msg.payload);
        } catch (e) {
          console.error("eden: event listener threw", e);
        }
      });
    }
  });

  window.eden = {
    invoke: function (command, args) {
      return new Promise(function (resolve, reject) {
        var requestID = String(nextRequestID++);
        pending.set(requestID, { resolve: resolve, reject: reject });
        send({ type: "command", request_id: requestID, command: command, args: args || {} });
      });
    },
    on: function (event, cb) {
      if (!listeners.has(event)) {
        listeners.set(event, []);
        send({ type: "subscribe", event: event });
      }
      listeners.get(event).push(cb);
      return function () {
        var cbs = listeners.get(event);
        if (!cbs) return;
        var idx = cbs.indexOf(cb);
        if (idx >= 0) cbs.splice(idx, 1);
        if (cbs.length === 0) {
          listeners.delete(event);
          send({ type: "unsubscribe", event: event });
        }
      };
    },
  };

  window.__edenRuntime = true;
})();`, bridgeURLJSON, appIDJSON, viewID)
}
