// Package api is the surface a plugin sees: the Context and its five
// capability managers.
//
// A Context is created for one plugin after its manifest validates. It
// carries the plugin id, the host platform and the immutable permission
// set parsed from the manifest. Managers are built lazily and delegate to
// host collaborators supplied through Providers:
//
//   - CoTManager: registerHandler, unregisterHandler, queryMessages (cot.read)
//     and sendMessage (cot.write)
//   - MapManager: addLayer, removeLayer, addMarker, removeMarker (map.write)
//     and getMapCenter, getZoomLevel (map.read)
//   - NetworkManager: request (network.access)
//   - LocationManager: getCurrentLocation (location.read) and
//     updateLocation (location.write)
//   - UIManager: registerProvider and showAlert (ui.create)
//
// Every operation passes Context.authorize before it touches state or a
// collaborator. A missing permission yields a perr.KindPermissionDenied
// error naming the permission, and nothing changes. After Close, every
// operation fails with a runtime error and the managers release what they
// registered with the host.
//
// # Script plugins
//
// Script plugins reach the same managers through the "omnitak" Lua module
// installed by Registry.Install:
//
//	local omnitak = require("omnitak")
//	omnitak.cot.register_handler(function(msg)
//	    omnitak.log.info("contact " .. msg.uid)
//	end)
//	omnitak.map.add_marker({ id = "hq", lat = 38.9, lon = -77.0 })
//
// All submodules are installed regardless of grants; a call without the
// permission raises a Lua error. omnitak.has(name) lets a script check
// first.
package api
