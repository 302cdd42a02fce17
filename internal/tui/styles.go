package tui

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/man4korea/kdv-erp/internal/model"
	"gopkg.in/yaml.v3"
)

// Palette. InitializeSkin may replace any of these before the program starts.
var (
	ColorNavy    = lipgloss.Color("17")
	ColorBlue    = lipgloss.Color("39")
	ColorGray    = lipgloss.Color("244")
	ColorWhite   = lipgloss.Color("255")
	ColorBlack   = lipgloss.Color("16")
	ColorRed     = lipgloss.Color("196")
	ColorOrange  = lipgloss.Color("208")
	ColorYellow  = lipgloss.Color("220")
	ColorGreen   = lipgloss.Color("42")
	ColorMagenta = lipgloss.Color("201")
)

// Skin is a palette override loaded from <configDir>/skins/<name>.yml.
//
//	colors:
//	  navy: "#1e1e2e"
//	  red: "203"
type Skin struct {
	Name   string            `yaml:"name"`
	Colors map[string]string `yaml:"colors"`
}

func paletteSlots() map[string]*lipgloss.Color {
	return map[string]*lipgloss.Color{
		"navy":    &ColorNavy,
		"blue":    &ColorBlue,
		"gray":    &ColorGray,
		"white":   &ColorWhite,
		"black":   &ColorBlack,
		"red":     &ColorRed,
		"orange":  &ColorOrange,
		"yellow":  &ColorYellow,
		"green":   &ColorGreen,
		"magenta": &ColorMagenta,
	}
}

// InitializeSkin applies the named skin. The default skin needs no file.
func InitializeSkin(name, configDir string) error {
	if name == "" || name == model.DefaultSkin {
		return nil
	}
	path := filepath.Join(configDir, "skins", name+".yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read skin: %w", err)
	}
	var skin Skin
	if err := yaml.Unmarshal(data, &skin); err != nil {
		return fmt.Errorf("parse skin %s: %w", path, err)
	}
	return applySkin(skin)
}

func applySkin(skin Skin) error {
	slots := paletteSlots()
	for key := range skin.Colors {
		if _, ok := slots[key]; !ok {
			return fmt.Errorf("skin %q: unknown color %q", skin.Name, key)
		}
	}
	for key, value := range skin.Colors {
		*slots[key] = lipgloss.Color(value)
	}
	return nil
}

// levelColor follows the colors operators know from the console sink.
func levelColor(l model.Level) lipgloss.Color {
	switch l {
	case model.LevelDebug:
		return ColorGray
	case model.LevelInfo:
		return ColorBlue
	case model.LevelWarn:
		return ColorOrange
	case model.LevelError:
		return ColorRed
	case model.LevelFatal:
		return ColorMagenta
	default:
		return ColorWhite
	}
}

func levelStyle(l model.Level) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(levelColor(l)).Bold(l >= model.LevelError).Width(5)
}

func sectionStyle(active bool) lipgloss.Style {
	border := ColorGray
	if active {
		border = ColorBlue
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}

func titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorBlue).Bold(true)
}

func mutedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorGray)
}
