package renderer

import (
	"strconv"

	"github.com/conneroisu/fxlab/internal/console"
)

// prelude runs before author behavior. It wraps console.log, console.warn and
// console.error so each call is posted to the parent as a console message and
// then forwarded to the original method, and it reports uncaught errors and
// unhandled rejections as error-level messages.
var prelude = `(function () {
  var post = function (level, args) {
    window.parent.postMessage({
      type: ` + strconv.Quote(console.MessageType) + `,
      level: level,
      args: Array.prototype.map.call(args, String)
    }, '*');
  };
  ['log', 'warn', 'error'].forEach(function (level) {
    var original = console[level];
    console[level] = function () {
      post(level, arguments);
      if (original) {
        original.apply(console, arguments);
      }
    };
  });
  window.onerror = function (message) {
    post('error', [` + strconv.Quote(console.ErrorPrefix) + ` + message]);
    return true;
  };
  window.onunhandledrejection = function (event) {
    post('error', [` + strconv.Quote(console.RejectionPrefix) + ` + event.reason]);
  };
})();
`

// Prelude returns the instrumentation script embedded in editor and gallery
// documents.
func Prelude() string {
	return prelude
}
