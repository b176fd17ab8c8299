package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jrhy/segment"
	"github.com/jrhy/segment/memory"
	"github.com/jrhy/segment/persist/bolt"
	"github.com/jrhy/segment/persist/file"
)

const segmentPrefix = "segments/"

// lister is implemented by the persists that can enumerate their names.
type lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

type app struct {
	dir      string
	boltPath string
	verbose  bool

	logger  *zap.Logger
	persist segment.Persist
	store   *segment.Store
	close   func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "segdump",
		Short:         "Inspect and edit segment stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.close != nil {
				return a.close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.dir, "dir", "", "directory of a file store")
	rootCmd.PersistentFlags().StringVar(&a.boltPath, "bolt", "", "path of a bolt store")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log store activity")

	headCmd := &cobra.Command{
		Use:   "head",
		Short: "Print the head of the store",
		Args:  cobra.NoArgs,
		RunE:  a.runHead,
	}
	segmentsCmd := &cobra.Command{
		Use:   "segments",
		Short: "List the segments of the store",
		Args:  cobra.NoArgs,
		RunE:  a.runSegments,
	}
	segmentCmd := &cobra.Command{
		Use:   "segment <segment id>",
		Short: "List the records of a segment",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runSegment,
	}
	var depth int
	treeCmd := &cobra.Command{
		Use:   "tree [node id]",
		Short: "Print a node tree, by default the head",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTree(cmd, args, depth)
		},
	}
	treeCmd.Flags().IntVar(&depth, "depth", -1, "levels of children to print, -1 for all")
	diffCmd := &cobra.Command{
		Use:   "diff <before node id> <after node id>",
		Short: "Print the differences between two node trees",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runDiff,
	}
	importCmd := &cobra.Command{
		Use:   "import <json file>",
		Short: "Commit a JSON document as the new head",
		Long: `Objects become nodes and everything else becomes a property:
strings, numbers and booleans single valued, arrays of them multi valued.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runImport,
	}
	rootCmd.AddCommand(headCmd, segmentsCmd, segmentCmd, treeCmd, diffCmd, importCmd)
	return rootCmd
}

func (a *app) open() error {
	var err error
	a.logger = zap.NewNop()
	if a.verbose {
		if a.logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	switch {
	case a.dir != "" && a.boltPath != "":
		return errors.New("--dir and --bolt are exclusive")
	case a.dir != "":
		a.persist = file.NewPersistForPath(a.dir)
	case a.boltPath != "":
		p, err := bolt.Open(a.boltPath, bolt.Options{})
		if err != nil {
			return err
		}
		a.persist, a.close = p, p.Close
	default:
		return errors.New("one of --dir or --bolt is required")
	}
	a.store, err = segment.NewStore(segment.StoreConfig{Persist: a.persist, Logger: a.logger})
	return err
}

func (a *app) runHead(cmd *cobra.Command, args []string) error {
	head, err := a.store.Head(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(head)
}

func (a *app) runSegments(cmd *cobra.Command, args []string) error {
	l, ok := a.persist.(lister)
	if !ok {
		return errors.New("store cannot list segments")
	}
	ctx := cmd.Context()
	names, err := l.List(ctx, segmentPrefix)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range names {
		id, err := segment.ParseSegmentID(strings.TrimPrefix(name, segmentPrefix))
		if err != nil {
			a.logger.Warn("skipping unexpected name", zap.String("name", name))
			continue
		}
		seg, err := a.store.Segment(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%v %s %d bytes %d records %d references %d blob references\n",
			id, seg.Version(), seg.Size(), len(seg.Records()), len(seg.References()), len(seg.BlobRefs()))
	}
	return nil
}

func (a *app) runSegment(cmd *cobra.Command, args []string) error {
	id, err := segment.ParseSegmentID(args[0])
	if err != nil {
		return err
	}
	seg, err := a.store.Segment(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "segment %v %s %+v\n", id, seg.Version(), seg.Limits())
	for i, ref := range seg.References() {
		fmt.Fprintf(out, "reference %d %v\n", i+1, ref)
	}
	for _, r := range seg.Records() {
		fmt.Fprintf(out, "%8d %-8s %d\n", r.Offset, r.Type, r.Size)
	}
	for _, ref := range seg.BlobRefs() {
		fmt.Fprintf(out, "blob reference %v\n", ref)
	}
	return nil
}

func (a *app) readNode(ctx context.Context, args []string, i int) (*segment.SegmentNodeState, error) {
	var id segment.RecordID
	if len(args) > i {
		var err error
		if id, err = segment.ParseRecordID(args[i]); err != nil {
			return nil, err
		}
	} else {
		head, err := a.store.Head(ctx)
		if err != nil {
			return nil, err
		}
		id = head.Node
	}
	return segment.NewReader(a.store).ReadNode(ctx, id)
}

func (a *app) runTree(cmd *cobra.Command, args []string, depth int) error {
	n, err := a.readNode(cmd.Context(), args, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "/ %v\n", n.ID())
	return printTree(cmd.Context(), cmd.OutOrStdout(), n, 1, depth)
}

func printTree(ctx context.Context, out io.Writer, n memory.NodeState, level, depth int) error {
	indent := strings.Repeat("  ", level)
	props, err := n.Properties(ctx)
	if err != nil {
		return err
	}
	for _, p := range props {
		fmt.Fprintf(out, "%s- %v\n", indent, p)
	}
	children, err := n.ChildNodeEntries(ctx)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		if sn, ok := c.Node.(*segment.SegmentNodeState); ok {
			fmt.Fprintf(out, "%s%s %v\n", indent, c.Name, sn.ID())
		} else {
			fmt.Fprintf(out, "%s%s\n", indent, c.Name)
		}
		if depth >= 0 && level > depth {
			continue
		}
		if err := printTree(ctx, out, c.Node, level+1, depth); err != nil {
			return err
		}
	}
	return nil
}

// printDiff prints differences as they are found, descending into
// changed children.
type printDiff struct {
	ctx  context.Context
	out  io.Writer
	path string
}

func (d *printDiff) PropertyAdded(after *memory.PropertyState) (bool, error) {
	fmt.Fprintf(d.out, "+ %s/%v\n", d.path, after)
	return true, nil
}

func (d *printDiff) PropertyChanged(before, after *memory.PropertyState) (bool, error) {
	fmt.Fprintf(d.out, "~ %s/%v -> %v\n", d.path, before, after)
	return true, nil
}

func (d *printDiff) PropertyDeleted(before *memory.PropertyState) (bool, error) {
	fmt.Fprintf(d.out, "- %s/%v\n", d.path, before)
	return true, nil
}

func (d *printDiff) ChildNodeAdded(name string, after memory.NodeState) (bool, error) {
	fmt.Fprintf(d.out, "+ %s/%s/\n", d.path, name)
	return true, nil
}

func (d *printDiff) ChildNodeChanged(name string, before, after memory.NodeState) (bool, error) {
	return after.CompareAgainstBaseState(d.ctx, before, &printDiff{d.ctx, d.out, d.path + "/" + name})
}

func (d *printDiff) ChildNodeDeleted(name string, before memory.NodeState) (bool, error) {
	fmt.Fprintf(d.out, "- %s/%s/\n", d.path, name)
	return true, nil
}

func (a *app) runDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	before, err := a.readNode(ctx, args, 0)
	if err != nil {
		return err
	}
	after, err := a.readNode(ctx, args, 1)
	if err != nil {
		return err
	}
	_, err = after.CompareAgainstBaseState(ctx, before, &printDiff{ctx: ctx, out: cmd.OutOrStdout()})
	return err
}

func (a *app) runImport(cmd *cobra.Command, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	n, err := jsonNode(doc)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	w, err := segment.NewWriter(a.store, segment.WriterConfig{Logger: a.logger})
	if err != nil {
		return err
	}
	root, err := w.Commit(cmd.Context(), n)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), root.Node)
	return nil
}

func jsonNode(doc map[string]any) (memory.NodeState, error) {
	var props []*memory.PropertyState
	children := map[string]memory.NodeState{}
	for name, v := range doc {
		if obj, ok := v.(map[string]any); ok {
			c, err := jsonNode(obj)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			children[name] = c
			continue
		}
		p, err := jsonProperty(name, v)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return memory.NewNode(props, children), nil
}

func jsonProperty(name string, v any) (*memory.PropertyState, error) {
	switch v := v.(type) {
	case string:
		return memory.StringProperty(name, v), nil
	case bool:
		return memory.BooleanProperty(name, v), nil
	case float64:
		if v == float64(int64(v)) {
			return memory.LongProperty(name, int64(v)), nil
		}
		return memory.NewProperty(name, memory.Double, false, []byte(fmt.Sprint(v))), nil
	case []any:
		values := make([]string, len(v))
		for i, e := range v {
			switch e.(type) {
			case string, bool, float64:
				values[i] = fmt.Sprint(e)
			default:
				return nil, fmt.Errorf("%s: only scalars are allowed in arrays", name)
			}
		}
		return memory.Strings(name, values...), nil
	}
	return nil, fmt.Errorf("%s: unsupported value %v", name, v)
}
