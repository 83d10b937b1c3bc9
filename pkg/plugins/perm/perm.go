// Package perm provides the built-in administration plugin: capability
// grants and plugin toggles, driven by chat commands from admins.
package perm

import (
	"fmt"
	"strings"
	"time"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/permission"
	"github.com/umino-bot/umino/pkg/plugin"
)

// AdminCapability gates every command in this plugin. Default deny: the
// host seeds global allow grants for the admin list in its configuration,
// and further grants are issued over chat from there.
const AdminCapability = "admin"

// Deps are the stores the admin commands operate on.
type Deps struct {
	Store    *permission.Store
	Registry *plugin.Registry
}

// New builds the admin plugin.
func New(deps Deps) *plugin.Plugin {
	permCmd := plugin.Command("/perm")
	pluginCmd := plugin.Command("/plugin")

	return plugin.New("perm", "1.0.0").
		Requires(permission.Capability{Name: AdminCapability, DefaultAllow: false}).
		Listen(plugin.ListenerSchema{
			Name:       "perm.manage",
			Kinds:      []domain.EventKind{domain.KindMessage},
			Predicate:  permCmd,
			Priority:   0,
			Capability: AdminCapability,
			Handler: func(ctx *plugin.Context, ev domain.Event) (plugin.Completion, error) {
				ctx.Reply(handlePerm(deps, ev, permCmd.Args(ev)))
				return plugin.Consume, nil
			},
		}).
		Listen(plugin.ListenerSchema{
			Name:       "perm.toggle",
			Kinds:      []domain.EventKind{domain.KindMessage},
			Predicate:  pluginCmd,
			Priority:   0,
			Capability: AdminCapability,
			Handler: func(ctx *plugin.Context, ev domain.Event) (plugin.Completion, error) {
				ctx.Reply(handlePlugin(deps, ev, pluginCmd.Args(ev)))
				return plugin.Consume, nil
			},
		})
}

// handlePerm implements:
//
//	/perm grant <subject> <capability> [allow|deny] [ttl]
//	/perm revoke <subject> <capability>
//
// Grants apply at the event's group when sent in a group, globally
// otherwise.
func handlePerm(deps Deps, ev domain.Event, args []string) string {
	if len(args) < 3 {
		return "usage: /perm grant|revoke <subject> <capability> [allow|deny] [ttl]"
	}
	subject, capability := args[1], args[2]
	scope := commandScope(ev)

	switch args[0] {
	case "grant":
		effect := permission.Allow
		var expiresAt time.Time
		for _, arg := range args[3:] {
			switch arg {
			case "allow":
				effect = permission.Allow
			case "deny":
				effect = permission.Deny
			default:
				ttl, err := time.ParseDuration(arg)
				if err != nil {
					return fmt.Sprintf("bad argument %q", arg)
				}
				expiresAt = time.Now().Add(ttl)
			}
		}
		if err := deps.Store.Grant(subject, scope, capability, effect, expiresAt); err != nil {
			return "grant failed: " + err.Error()
		}
		return fmt.Sprintf("%s %s %s at %s", effect, subject, capability, scope)

	case "revoke":
		if err := deps.Store.Revoke(subject, scope, capability); err != nil {
			return "revoke failed: " + err.Error()
		}
		return fmt.Sprintf("revoked %s %s at %s", subject, capability, scope)

	default:
		return "usage: /perm grant|revoke <subject> <capability> [allow|deny] [ttl]"
	}
}

// handlePlugin implements:
//
//	/plugin list
//	/plugin enable|disable <name> [here|global]
func handlePlugin(deps Deps, ev domain.Event, args []string) string {
	if len(args) == 0 {
		return "usage: /plugin list | enable|disable <name> [here|global]"
	}

	switch args[0] {
	case "list":
		infos := deps.Registry.Plugins()
		lines := make([]string, 0, len(infos))
		for _, info := range infos {
			line := fmt.Sprintf("%s %s [%s]", info.Name, info.Version, info.State)
			if info.Error != "" {
				line += " " + info.Error
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			return "no plugins loaded"
		}
		return strings.Join(lines, "\n")

	case "enable", "disable":
		if len(args) < 2 {
			return "usage: /plugin enable|disable <name> [here|global]"
		}
		name := args[1]
		enabled := args[0] == "enable"

		var scope *domain.Scope
		if len(args) < 3 || args[2] == "here" {
			if s := commandScope(ev); !s.IsGlobal() {
				scope = &s
			}
		}
		if err := deps.Registry.SetEnabled(name, scope, enabled); err != nil {
			return "toggle failed: " + err.Error()
		}
		where := "globally"
		if scope != nil {
			where = "at " + scope.String()
		}
		return fmt.Sprintf("%s %s %s", name, args[0]+"d", where)

	default:
		return "usage: /plugin list | enable|disable <name> [here|global]"
	}
}

// commandScope is where an admin command takes effect: the surrounding
// group, or global for direct chats.
func commandScope(ev domain.Event) domain.Scope {
	if ev.Scope.GroupID != "" {
		return domain.Group(ev.Scope.GroupID)
	}
	return domain.Global()
}
