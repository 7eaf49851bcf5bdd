package splitter

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/gc-decomp/splitter/internal/object"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Browse the recovered Object tree (sections, symbols, relocations) interactively",
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	analyzed, err := analyzeFromConfig(cfg)
	if err != nil {
		return err
	}

	return runInspector(analyzed.Object)
}

// runInspector drives a tview tree browser over an Object, the domain
// analogue of the teacher's pkg/hw/cpu/debugger stepping through CPU and
// memory state: here the tree's three branches are sections, symbols (by
// section) and relocations (by section), each node's text colored by
// tview's own color tag syntax rather than fatih/color, since tview owns
// the terminal and re-renders nodes itself.
func runInspector(obj *object.Object) error {
	root := tview.NewTreeNode(fmt.Sprintf("object (%s)", obj.Arch.Name)).
		SetColor(tcell.ColorWhite)
	tree := tview.NewTreeView().SetRoot(root).SetCurrentNode(root)

	sections := tview.NewTreeNode("sections").SetColor(tcell.ColorYellow)
	symbols := tview.NewTreeNode("symbols").SetColor(tcell.ColorYellow)
	relocations := tview.NewTreeNode("relocations").SetColor(tcell.ColorYellow)
	root.AddChild(sections).AddChild(symbols).AddChild(relocations)

	for i, sec := range obj.Sections {
		n := tview.NewTreeNode(fmt.Sprintf("[%d] %-12s 0x%08x +0x%x (%s)", i, sec.Name, sec.Address, sec.Size, sec.Kind)).
			SetColor(tcell.ColorGreen)
		sections.AddChild(n)
	}

	for _, sym := range obj.SortedSymbols() {
		addr := obj.Address(sym.Ref)
		n := tview.NewTreeNode(fmt.Sprintf("0x%08x %s (%d)", addr, sym.Name, sym.Kind)).
			SetColor(tcell.ColorAqua)
		symbols.AddChild(n)
	}

	for secIdx, list := range obj.Relocations {
		secName := "?"
		if secIdx >= 0 && secIdx < len(obj.Sections) {
			secName = obj.Sections[secIdx].Name
		}
		secNode := tview.NewTreeNode(secName).SetColor(tcell.ColorOrange)
		relocations.AddChild(secNode)
		for _, r := range list {
			n := tview.NewTreeNode(fmt.Sprintf("+0x%x %s -> %s", r.Offset, r.Kind, r.Target)).
				SetColor(tcell.ColorSilver)
			secNode.AddChild(n)
		}
	}

	tree.SetSelectedFunc(func(node *tview.TreeNode) {
		if len(node.GetChildren()) == 0 {
			return
		}
		node.SetExpanded(!node.IsExpanded())
	})

	app := tview.NewApplication().SetRoot(tree, true)
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	return app.Run()
}
